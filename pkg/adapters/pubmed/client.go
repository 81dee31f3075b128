// Package pubmed talks to the NCBI E-utilities and PMC BioC APIs: query
// search, article metadata, and open-access full text.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/apperrors"
)

const (
	eutilsBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	biocBaseURL   = "https://www.ncbi.nlm.nih.gov/research/bionlp/RESTful/pmcoa.cgi/BioC_xml"

	// maxFulltextChars caps stored full text; analysis prompts truncate
	// further on their own.
	maxFulltextChars = 15000
)

// Client performs PubMed search, metadata, and full-text calls. NCBI asks
// for a contact email on every request; the API key is optional and only
// raises rate limits.
type Client struct {
	httpClient *http.Client
	email      string
	apiKey     string
	logger     *zap.Logger
}

// NewClient wires an HTTP client with a sane timeout when none is supplied.
func NewClient(httpClient *http.Client, email, apiKey string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		email:      email,
		apiKey:     apiKey,
		logger:     logger.Named("pubmed"),
	}
}

// PaperMeta is the metadata returned for one PubMed article.
type PaperMeta struct {
	PMID     string
	PMCID    string
	Title    string
	Abstract string
	Authors  []string
	Journal  string
	Year     string
	DOI      string
}

// Search runs an esearch query sorted by relevance and returns PMIDs.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {fmt.Sprintf("%d", maxResults)},
		"sort":    {"relevance"},
		"retmode": {"json"},
	}
	c.signParams(params)

	body, err := c.get(ctx, eutilsBaseURL+"/esearch.fcgi", params, "search")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.NewAdapterError("pubmed", "search", false,
			fmt.Errorf("failed to decode esearch response: %w", err))
	}

	c.logger.Debug("PubMed search completed",
		zap.String("query", query),
		zap.Int("hits", len(parsed.ESearchResult.IDList)))

	return parsed.ESearchResult.IDList, nil
}

// FetchMetadata retrieves title, abstract, authors, journal, year, DOI, and
// PMC id for the given PMIDs in one efetch call.
func (c *Client) FetchMetadata(ctx context.Context, pmids []string) ([]*PaperMeta, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"rettype": {"xml"},
		"retmode": {"xml"},
	}
	c.signParams(params)

	body, err := c.get(ctx, eutilsBaseURL+"/efetch.fcgi", params, "fetch_metadata")
	if err != nil {
		return nil, err
	}

	var parsed pubmedArticleSet
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.NewAdapterError("pubmed", "fetch_metadata", false,
			fmt.Errorf("failed to decode efetch response: %w", err))
	}

	papers := make([]*PaperMeta, 0, len(parsed.Articles))
	for _, article := range parsed.Articles {
		meta := article.toMeta()
		if meta.PMID == "" {
			continue
		}
		papers = append(papers, meta)
	}

	return papers, nil
}

// FetchFulltext retrieves open-access full text for a PMC id via the BioC
// XML endpoint. An empty result with nil error means no text is available.
func (c *Client) FetchFulltext(ctx context.Context, pmcID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/unicode", biocBaseURL, url.PathEscape(pmcID))

	body, err := c.get(ctx, endpoint, nil, "fetch_fulltext")
	if err != nil {
		return "", err
	}

	var parsed biocCollection
	if err := xml.Unmarshal(body, &parsed); err != nil {
		// The BioC endpoint answers plain-text error strings for unknown
		// ids; treat that as "no full text", not a failure.
		return "", nil
	}

	passages := make([]string, 0)
	for _, doc := range parsed.Documents {
		for _, p := range doc.Passages {
			if p.Text != "" {
				passages = append(passages, p.Text)
			}
		}
	}

	fulltext := strings.Join(passages, "\n\n")
	if len(fulltext) > maxFulltextChars {
		fulltext = truncateAtRune(fulltext, maxFulltextChars) + "\n\n[Truncated]"
	}
	return fulltext, nil
}

// truncateAtRune cuts s at or just below limit bytes without splitting a
// multi-byte rune.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// ============================================================================
// HTTP plumbing
// ============================================================================

func (c *Client) signParams(params url.Values) {
	params.Set("email", c.email)
	params.Set("tool", "concept-runner")
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, op string) ([]byte, error) {
	reqURL := endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperrors.NewAdapterError("pubmed", op, false, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewAdapterError("pubmed", op, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, apperrors.NewAdapterError("pubmed", op, retryable,
			fmt.Errorf("ncbi returned %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewAdapterError("pubmed", op, true, err)
	}
	return body, nil
}

// ============================================================================
// XML shapes
// ============================================================================

type pubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Title    innerText `xml:"ArticleTitle"`
			Abstract struct {
				Sections []abstractSection `xml:"AbstractText"`
			} `xml:"Abstract"`
			Authors []struct {
				LastName string `xml:"LastName"`
				ForeName string `xml:"ForeName"`
			} `xml:"AuthorList>Author"`
			Journal struct {
				Title string `xml:"Title"`
				Issue struct {
					Year string `xml:"PubDate>Year"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
	IDs []articleID `xml:"PubmedData>ArticleIdList>ArticleId"`
}

type abstractSection struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",innerxml"`
}

// innerText captures raw inner XML so nested markup inside an element does
// not truncate its text.
type innerText struct {
	Raw string `xml:",innerxml"`
}

type articleID struct {
	Type  string `xml:"IdType,attr"`
	Value string `xml:",chardata"`
}

// tagPattern strips markup left inside innerxml fields (titles and abstracts
// can contain <i>, <sup>, etc.).
var tagPattern = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

func (a *pubmedArticle) toMeta() *PaperMeta {
	meta := &PaperMeta{
		PMID:    strings.TrimSpace(a.Citation.PMID),
		Title:   stripTags(a.Citation.Article.Title.Raw),
		Journal: a.Citation.Article.Journal.Title,
		Year:    a.Citation.Article.Journal.Issue.Year,
	}

	parts := make([]string, 0, len(a.Citation.Article.Abstract.Sections))
	for _, section := range a.Citation.Article.Abstract.Sections {
		text := stripTags(section.Text)
		if text == "" {
			continue
		}
		if section.Label != "" {
			parts = append(parts, section.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}
	meta.Abstract = strings.Join(parts, "\n")

	for _, author := range a.Citation.Article.Authors {
		if author.LastName != "" {
			meta.Authors = append(meta.Authors, strings.TrimSpace(author.LastName+" "+author.ForeName))
		}
	}

	for _, id := range a.IDs {
		switch id.Type {
		case "doi":
			meta.DOI = strings.TrimSpace(id.Value)
		case "pmc":
			meta.PMCID = strings.TrimSpace(id.Value)
		}
	}

	return meta
}

// ============================================================================
// BioC shapes
// ============================================================================

type biocCollection struct {
	XMLName   xml.Name `xml:"collection"`
	Documents []struct {
		Passages []struct {
			Text string `xml:"text"`
		} `xml:"passage"`
	} `xml:"document"`
}
