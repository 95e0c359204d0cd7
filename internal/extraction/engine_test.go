package extraction

import (
	"context"
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

const proposal = "Price: $28,750\nDelivery: 25 days\nWarranty: 2 years\nPayment Terms: Net 30"

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  models.ExtractedFields
	}{
		{
			name:  "complete object",
			reply: `{"price":"$28,750","delivery":"25 days","warranty":"2 years","other_details":"Net 30"}`,
			want:  models.ExtractedFields{Price: "$28,750", Delivery: "25 days", Warranty: "2 years", OtherDetails: "Net 30"},
		},
		{
			name:  "fenced partial object fills N/A",
			reply: "```json\n{\"price\":\"$500\"}\n```",
			want:  models.ExtractedFields{Price: "$500", Delivery: "N/A", Warranty: "N/A", OtherDetails: "N/A"},
		},
		{
			name:  "non-string values coerced",
			reply: `{"price":2450,"delivery":"","warranty":null,"other_details":{"terms":"Net 30"}}`,
			want:  models.ExtractedFields{Price: "2450", Delivery: "N/A", Warranty: "N/A", OtherDetails: `{"terms":"Net 30"}`},
		},
		{name: "prose", reply: "Sure! The price is $500.", want: Fallback(proposal)},
		{name: "array", reply: `["$500"]`, want: Fallback(proposal)},
		{name: "unrelated object", reply: `{"answer":"yes"}`, want: Fallback(proposal)},
		{name: "null", reply: `null`, want: Fallback(proposal)},
		{name: "transport failure", err: errors.New("timeout"), want: Fallback(proposal)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEngine(replying(tt.reply, tt.err)).Extract(context.Background(), "Office Chairs", "Tech Supply Co.", proposal)
			if got != tt.want {
				t.Errorf("Extract = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFallbackShape(t *testing.T) {
	got := Fallback("raw reply")
	if got.RawText != "raw reply" || got.OtherDetails != "Failed to parse - see raw_text" {
		t.Errorf("Fallback = %+v", got)
	}
	if got.HasPrice() || got.HasDelivery() {
		t.Error("fallback should not count as having price or delivery")
	}
}

func TestExtractPromptCarriesContext(t *testing.T) {
	var req llm.CompletionRequest
	completer := llm.CompleterFunc(func(ctx context.Context, r llm.CompletionRequest) (*llm.CompletionResponse, error) {
		req = r
		return &llm.CompletionResponse{Content: `{"price":"1"}`}, nil
	})
	NewEngine(completer).Extract(context.Background(), "Office Chairs", "Tech Supply Co.", proposal)

	for _, want := range []string{`RFP Context: "Office Chairs"`, `Vendor Name: "Tech Supply Co."`, "Price: $28,750", `"other_details"`} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if req.Operation != "extract" {
		t.Errorf("operation = %q", req.Operation)
	}
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("a", 250)

	tests := []struct {
		name  string
		reply string
		err   error
		text  string
		want  string
	}{
		{name: "model summary trimmed", reply: "  Strong offer at $28,750.  ", text: proposal, want: "Strong offer at $28,750."},
		{name: "failure uses prefix", err: errors.New("down"), text: long, want: strings.Repeat("a", 200) + "..."},
		{name: "empty reply uses prefix", reply: "   ", text: "short", want: "short..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEngine(replying(tt.reply, tt.err)).Summarize(context.Background(), "Office Chairs", "Tech Supply Co.", tt.text)
			if got != tt.want {
				t.Errorf("Summarize = %q, want %q", got, tt.want)
			}
		})
	}
}
