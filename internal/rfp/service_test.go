package rfp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rfp-agent/backend/internal/events"
	"github.com/rfp-agent/backend/internal/llm"
	"github.com/rfp-agent/backend/internal/mailbox"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/internal/storage/sqlite"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []mailbox.Email
	failTo string
}

func (s *recordingSender) Send(ctx context.Context, email mailbox.Email) error {
	if email.To == s.failTo {
		return errors.New("connection refused")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email)
	return nil
}

func modelReplying(content string, err error) llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{Content: content}, nil
	})
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "rfp.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	store.SeedVendors(context.Background(), []models.Vendor{
		{Name: "Tech Supply Co.", ContactName: "Jane", ContactEmail: "vendor1@test.com"},
		{Name: "Supply Tech Co.", ContactName: "Raj", ContactEmail: "vendor2@test.com"},
	})
	return store
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantReply string
		wantDoc   string
	}{
		{
			name:      "plain text passes through",
			content:   "Please provide me with details regarding a Request for Proposal.",
			wantReply: "Please provide me with details regarding a Request for Proposal.",
		},
		{
			name:      "json without title",
			content:   "```json\n{\"summary\": \"chairs\"}\n```",
			wantReply: MissingTitle,
		},
		{
			name:      "json rfp keeps key order",
			content:   "```json\n{\"title\": \"Chairs\", \"budget\": \"5000\", \"delivery_terms\": \"30 days\"}\n```",
			wantReply: ApprovalPrompt,
			wantDoc:   `{"title":"Chairs","budget":"5000","delivery_terms":"30 days"}`,
		},
		{
			name:      "empty completion",
			content:   "  ",
			wantReply: "No reply.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(nil, modelReplying(tt.content, nil), nil, "procurement@company.com", nil)
			got, err := svc.Generate(context.Background(), "I need 50 chairs")
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if got.Reply != tt.wantReply || string(got.StructuredRequirements) != tt.wantDoc {
				t.Errorf("Generate = %q / %s", got.Reply, got.StructuredRequirements)
			}
		})
	}
}

func TestGenerateModelFailure(t *testing.T) {
	svc := NewService(nil, modelReplying("", errors.New("circuit breaker is open")), nil, "", nil)
	if _, err := svc.Generate(context.Background(), "chairs"); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfirmValidation(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, nil, &recordingSender{}, "procurement@company.com", nil)
	ctx := context.Background()

	res, err := svc.Confirm(ctx, ConfirmRequest{Approved: false})
	if err != nil || !res.Discarded {
		t.Errorf("not approved = %+v, %v", res, err)
	}

	tests := []struct {
		name string
		req  ConfirmRequest
		want string
	}{
		{"no vendors", ConfirmRequest{Approved: true, RFP: json.RawMessage(`{"title":"Chairs"}`)}, "No vendors selected"},
		{"no title", ConfirmRequest{Approved: true, RFP: json.RawMessage(`{"budget":"1"}`), VendorIDs: []int64{1}}, "RFP title is required"},
		{"not an object", ConfirmRequest{Approved: true, RFP: json.RawMessage(`[`), VendorIDs: []int64{1}}, "RFP must be a JSON object"},
		{"unknown vendors", ConfirmRequest{Approved: true, RFP: json.RawMessage(`{"title":"Chairs"}`), VendorIDs: []int64{99}}, "No valid vendors found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Confirm(ctx, tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Message != tt.want {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestConfirmSendsAndMarksSent(t *testing.T) {
	store := newStore(t)
	sender := &recordingSender{failTo: "vendor2@test.com"}
	hub := events.NewHub(8)
	feed, cancel := hub.Subscribe()
	defer cancel()

	svc := NewService(store, nil, sender, "procurement@company.com", hub)
	ctx := context.Background()

	vendors, _ := store.ListVendors(ctx)
	ids := []int64{vendors[0].ID, vendors[1].ID}
	doc := json.RawMessage(`{"title":"Office Chairs","budget":"5000"}`)

	res, err := svc.Confirm(ctx, ConfirmRequest{Approved: true, RFP: doc, VendorIDs: ids})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.VendorsLinked != 2 || res.EmailsSent != 1 || res.EmailsFailed != 1 || res.RFP.Status != models.RFPStatusSent {
		t.Errorf("result = %+v", res)
	}

	stored, linked, err := svc.GetRFP(ctx, res.RFP.ID)
	if err != nil {
		t.Fatalf("GetRFP: %v", err)
	}
	if stored.Status != models.RFPStatusSent || len(linked) != 2 {
		t.Errorf("stored = %+v, linked = %d", stored, len(linked))
	}
	if !strings.Contains(string(stored.StructuredRequirements), `"budget"`) {
		t.Errorf("requirements not stored: %s", stored.StructuredRequirements)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails", len(sender.sent))
	}
	email := sender.sent[0]
	wantSubject := "[RFP #1] Office Chairs - Submission Required"
	if email.To != "vendor1@test.com" || email.From != "procurement@company.com" || email.Subject != wantSubject {
		t.Errorf("email = %+v", email)
	}
	if !strings.HasPrefix(email.Body, "Hello Jane,") || !strings.Contains(email.Body, "Budget: 5000") {
		t.Errorf("body = %s", email.Body)
	}

	ev := <-feed
	if ev.Type != events.TypeEmailSent || ev.Data["to"] != "vendor1@test.com" {
		t.Errorf("event = %+v", ev)
	}
}

func TestConfirmRelinkIsNoop(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, nil, &recordingSender{}, "procurement@company.com", nil)
	ctx := context.Background()

	vendors, _ := store.ListVendors(ctx)
	res, err := svc.Confirm(ctx, ConfirmRequest{
		Approved:  true,
		RFP:       json.RawMessage(`{"title":"Desks"}`),
		VendorIDs: []int64{vendors[0].ID, vendors[0].ID},
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.VendorsLinked != 1 {
		t.Errorf("vendors linked = %d, want 1", res.VendorsLinked)
	}
}
