package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rfp-agent/backend/internal/llm"
	"github.com/rfp-agent/backend/internal/storage/models"
)

func replying(content string, err error) llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{Content: content}, nil
	})
}

var (
	longText  = "Price: $28,750. Delivery: 25 days. Warranty: 2 years on all items included."
	shortText = "Price: $5"
	complete  = models.ExtractedFields{Price: "$28,750", Delivery: "25 days", Warranty: "2 years", OtherDetails: "N/A"}
)

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		err       error
		extracted models.ExtractedFields
		text      string
		want      Result
	}{
		{
			name:  "json",
			reply: `{"score": 88, "reasoning": "Competitive price"}`,
			text:  longText,
			want:  Result{Score: 88, Reasoning: "Competitive price", Path: PathJSON},
		},
		{
			name:  "fenced json default reasoning",
			reply: "```json\n{\"score\": 72.6}\n```",
			text:  longText,
			want:  Result{Score: 73, Reasoning: ReasoningDefault, Path: PathJSON},
		},
		{
			name:  "json out of range clamped",
			reply: `{"score": 140}`,
			text:  longText,
			want:  Result{Score: 100, Reasoning: ReasoningDefault, Path: PathJSON},
		},
		{
			name:  "regex label",
			reply: "I think Score: 72 is fair",
			text:  longText,
			want:  Result{Score: 72, Reasoning: ReasoningRegex, Path: PathRegex},
		},
		{
			name:  "regex on broken json",
			reply: `{"score": 81, "reasoning": "unterminated`,
			text:  longText,
			want:  Result{Score: 81, Reasoning: ReasoningRegex, Path: PathRegex},
		},
		{
			name:      "string score is not a number",
			reply:     `{"score": "high"}`,
			extracted: complete,
			text:      longText,
			want:      Result{Score: 90, Reasoning: ReasoningHeuristic, Path: PathHeuristic},
		},
		{
			name:      "no score falls back to heuristic",
			reply:     "Looks good to me.",
			extracted: complete,
			text:      longText,
			want:      Result{Score: 90, Reasoning: ReasoningHeuristic, Path: PathHeuristic},
		},
		{
			name:      "transport failure goes to heuristic",
			err:       errors.New("breaker open"),
			extracted: models.ExtractedFields{Price: "N/A", Delivery: "N/A"},
			text:      shortText,
			want:      Result{Score: 60, Reasoning: ReasoningHeuristic, Path: PathHeuristic},
		},
		{
			name:  "zero on long text is floored",
			reply: `{"score": 0, "reasoning": "Harsh"}`,
			text:  longText,
			want:  Result{Score: 65, Reasoning: "Harsh" + FloorNote, Path: PathJSON},
		},
		{
			name:  "zero on short text stays zero",
			reply: `{"score": 0, "reasoning": "Gibberish"}`,
			text:  shortText,
			want:  Result{Score: 0, Reasoning: "Gibberish", Path: PathJSON},
		},
		{
			name:  "regex zero floored",
			reply: "Score: 0",
			text:  longText,
			want:  Result{Score: 65, Reasoning: ReasoningRegex + FloorNote, Path: PathRegex},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEngine(replying(tt.reply, tt.err)).Score(context.Background(), Input{
				RFPTitle:     "Office Chairs",
				VendorName:   "Tech Supply Co.",
				Extracted:    tt.extracted,
				ProposalText: tt.text,
			})
			if got != tt.want {
				t.Errorf("Score = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHeuristic(t *testing.T) {
	tests := []struct {
		name      string
		extracted models.ExtractedFields
		text      string
		want      int
	}{
		{name: "nothing", extracted: models.ExtractedFields{}, text: shortText, want: 60},
		{name: "price only", extracted: models.ExtractedFields{Price: "$5"}, text: shortText, want: 70},
		{name: "N/A does not count", extracted: models.ExtractedFields{Price: "N/A", Delivery: "N/A"}, text: longText, want: 70},
		{name: "everything capped", extracted: complete, text: longText, want: 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Heuristic(tt.extracted, tt.text); got.Score != tt.want {
				t.Errorf("Heuristic = %d, want %d", got.Score, tt.want)
			}
		})
	}
}

func TestApplyFloorBoundary(t *testing.T) {
	fifty := strings.Repeat("x", 50)
	if got := ApplyFloor(Result{Score: 0, Reasoning: "r"}, fifty); got.Score != 0 {
		t.Errorf("text of exactly 50 chars floored: %+v", got)
	}
	if got := ApplyFloor(Result{Score: 0, Reasoning: "r"}, fifty+"x"); got.Score != 65 || got.Reasoning != "r"+FloorNote {
		t.Errorf("text of 51 chars not floored: %+v", got)
	}
	if got := ApplyFloor(Result{Score: 10, Reasoning: "r"}, fifty+"x"); got.Score != 10 {
		t.Errorf("non-zero score changed: %+v", got)
	}
}

func TestPromptContents(t *testing.T) {
	var prompt string
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		prompt = req.SystemPrompt
		return &llm.CompletionResponse{Content: `{"score":80}`}, nil
	})
	text := strings.Repeat("y", 2000)

	NewEngine(completer).Score(context.Background(), Input{RFPTitle: "Chairs", VendorName: "V", ProposalText: text})
	if !strings.Contains(prompt, `"Standard business requirements"`) {
		t.Error("missing requirements default")
	}
	if strings.Contains(prompt, strings.Repeat("y", 1501)) || !strings.Contains(prompt, strings.Repeat("y", 1500)) {
		t.Error("proposal text not cut at 1500 characters")
	}

	NewEngine(completer).Score(context.Background(), Input{
		RFPTitle:     "Chairs",
		Requirements: json.RawMessage(`{"budget":"$30k"}`),
		ProposalText: "p",
	})
	if !strings.Contains(prompt, `"budget": "$30k"`) {
		t.Errorf("requirements not rendered:\n%s", prompt)
	}
}
