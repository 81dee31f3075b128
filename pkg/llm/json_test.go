package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "bare object",
			response: `{"queries": ["a"]}`,
			want:     `{"queries": ["a"]}`,
		},
		{
			name:     "code fence",
			response: "```json\n{\"slug\": \"x\"}\n```",
			want:     `{"slug": "x"}`,
		},
		{
			name:     "surrounding prose",
			response: `Here is the analysis you asked for: {"confidence": "high"} Hope that helps!`,
			want:     `{"confidence": "high"}`,
		},
		{
			name:     "nested objects",
			response: `{"a": {"b": {"c": 1}}}`,
			want:     `{"a": {"b": {"c": 1}}}`,
		},
		{
			name:     "braces inside strings",
			response: `{"text": "unbalanced } inside \" string"}`,
			want:     `{"text": "unbalanced } inside \" string"}`,
		},
		{
			name:     "array response",
			response: `The queries are: ["one", "two"]`,
			want:     `["one", "two"]`,
		},
		{
			name:     "no json",
			response: "I could not produce a result.",
			wantErr:  true,
		},
		{
			name:     "unbalanced",
			response: `{"a": 1`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnmarshalResponse(t *testing.T) {
	var plan struct {
		Queries []string `json:"queries"`
		Slug    string   `json:"slug"`
	}

	response := "Sure! ```json\n{\"queries\": [\"q1\", \"q2\"], \"slug\": \"topic-slug\"}\n```"
	if err := UnmarshalResponse(response, &plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Queries) != 2 || plan.Queries[0] != "q1" {
		t.Errorf("unexpected queries: %v", plan.Queries)
	}
	if plan.Slug != "topic-slug" {
		t.Errorf("unexpected slug: %s", plan.Slug)
	}
}

func TestUnmarshalResponse_NoJSON(t *testing.T) {
	var out map[string]any
	if err := UnmarshalResponse("nothing here", &out); err == nil {
		t.Error("expected error for response without JSON")
	}
}
