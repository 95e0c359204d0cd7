// Package rfp turns a described purchasing need into an RFP, sends it to the chosen vendors and
// serves the RFP records back.
package rfp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rfp-agent/backend/internal/events"
	"github.com/rfp-agent/backend/internal/llm"
	"github.com/rfp-agent/backend/internal/mailbox"
	"github.com/rfp-agent/backend/internal/metrics"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
	"github.com/rfp-agent/backend/pkg/textutil"
)

const (
	ApprovalPrompt   = "Here’s the generated RFP. Do you approve? (Yes/No)"
	MissingTitle     = "RFP JSON missing 'title' field."
	emptyModelReply  = "No reply."
	maxParallelSends = 8
)

// ValidationError is a request the caller must fix; its message is safe to show.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type Store interface {
	CreateRFP(ctx context.Context, title string, requirements json.RawMessage) (*models.RFP, error)
	UpdateRFPStatus(ctx context.Context, id int64, status string) error
	GetRFP(ctx context.Context, id int64) (*models.RFP, error)
	ListRFPs(ctx context.Context) ([]models.RFP, error)
	ListVendors(ctx context.Context) ([]models.Vendor, error)
	GetVendorsByIDs(ctx context.Context, ids []int64) ([]models.Vendor, error)
	LinkVendor(ctx context.Context, rfpID, vendorID int64) error
	VendorsForRFP(ctx context.Context, rfpID int64) ([]models.Vendor, error)
}

type Publisher interface {
	Publish(eventType string, data map[string]any)
}

type ChatReply struct {
	Reply                  string          `json:"reply"`
	StructuredRequirements json.RawMessage `json:"structured_requirements,omitempty"`
}

type ConfirmRequest struct {
	Approved  bool            `json:"approved"`
	RFP       json.RawMessage `json:"rfp"`
	VendorIDs []int64         `json:"vendorIds"`
}

type ConfirmResult struct {
	Discarded     bool
	RFP           *models.RFP
	VendorsLinked int
	EmailsSent    int
	EmailsFailed  int
}

type Service struct {
	store  Store
	llm    llm.Completer
	sender mailbox.Sender
	from   string
	events Publisher
}

// NewService wires the workflow. events may be nil.
func NewService(store Store, completer llm.Completer, sender mailbox.Sender, from string, events Publisher) *Service {
	return &Service{store: store, llm: completer, sender: sender, from: from, events: events}
}

// Generate asks the model for an RFP document. A reply that is not JSON is the model talking to
// the user and is passed through as is.
func (s *Service) Generate(ctx context.Context, text string) (*ChatReply, error) {
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: generationPrompt,
		UserPrompt:   text,
		Operation:    "generate_rfp",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate rfp: %w", err)
	}

	content := resp.Content
	if strings.TrimSpace(content) == "" {
		content = emptyModelReply
	}

	doc := []byte(textutil.StripCodeFences(content))
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return &ChatReply{Reply: content}, nil
	}

	if title(parsed) == "" {
		logger.Warn("Generated rfp has no title")
		return &ChatReply{Reply: MissingTitle}, nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err != nil {
		return nil, fmt.Errorf("failed to compact rfp: %w", err)
	}
	return &ChatReply{Reply: ApprovalPrompt, StructuredRequirements: compact.Bytes()}, nil
}

func title(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	t, _ := textutil.CoerceString(obj["title"])
	return t
}

// Confirm stores an approved RFP, links the selected vendors and emails each of them. A failed
// email is logged and counted; it does not fail the request.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if !req.Approved {
		logger.Info("RFP discarded by user")
		return &ConfirmResult{Discarded: true}, nil
	}
	if len(req.VendorIDs) == 0 {
		return nil, &ValidationError{Message: "No vendors selected"}
	}

	var parsed any
	if err := json.Unmarshal(req.RFP, &parsed); err != nil {
		return nil, &ValidationError{Message: "RFP must be a JSON object"}
	}
	rfpTitle := title(parsed)
	if rfpTitle == "" {
		return nil, &ValidationError{Message: "RFP title is required"}
	}

	var doc bytes.Buffer
	if err := json.Compact(&doc, req.RFP); err != nil {
		return nil, &ValidationError{Message: "RFP must be a JSON object"}
	}

	saved, err := s.store.CreateRFP(ctx, rfpTitle, doc.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to save rfp: %w", err)
	}
	log := logger.GetLogger().With(zap.Int64("rfp_id", saved.ID))
	log.Info("RFP saved", zap.String("title", rfpTitle))

	vendors, err := s.store.GetVendorsByIDs(ctx, req.VendorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load vendors: %w", err)
	}
	if len(vendors) == 0 {
		log.Warn("No valid vendors for rfp", zap.Int64s("vendor_ids", req.VendorIDs))
		return nil, &ValidationError{Message: "No valid vendors found"}
	}

	for _, v := range vendors {
		if err := s.store.LinkVendor(ctx, saved.ID, v.ID); err != nil {
			return nil, fmt.Errorf("failed to link vendor %d: %w", v.ID, err)
		}
	}
	linked, err := s.store.VendorsForRFP(ctx, saved.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify vendor links: %w", err)
	}

	sent, failed := s.sendAll(ctx, saved, doc.Bytes(), vendors)

	if err := s.store.UpdateRFPStatus(ctx, saved.ID, models.RFPStatusSent); err != nil {
		return nil, fmt.Errorf("failed to mark rfp sent: %w", err)
	}
	saved.Status = models.RFPStatusSent

	log.Info("RFP sent",
		zap.Int("vendors_linked", len(linked)),
		zap.Int("emails_sent", sent),
		zap.Int("emails_failed", failed),
	)
	return &ConfirmResult{RFP: saved, VendorsLinked: len(linked), EmailsSent: sent, EmailsFailed: failed}, nil
}

func (s *Service) sendAll(ctx context.Context, saved *models.RFP, doc json.RawMessage, vendors []models.Vendor) (int, int) {
	var sent, failed atomic.Int32
	subject := fmt.Sprintf("[RFP #%d] %s - Submission Required", saved.ID, saved.Title)

	var g errgroup.Group
	g.SetLimit(maxParallelSends)
	for _, v := range vendors {
		v := v
		g.Go(func() error {
			recipient := v.ContactName
			if recipient == "" {
				recipient = v.Name
			}
			err := s.sender.Send(ctx, mailbox.Email{
				From:    s.from,
				To:      v.ContactEmail,
				Subject: subject,
				Body:    FormatForEmail(doc, recipient),
			})
			if err != nil {
				failed.Add(1)
				metrics.EmailsSent.WithLabelValues("failed").Inc()
				logger.Error("Failed to email vendor",
					zap.Int64("rfp_id", saved.ID),
					zap.String("vendor", v.Name),
					zap.String("to", v.ContactEmail),
					zap.Error(err),
				)
				return nil
			}

			sent.Add(1)
			metrics.EmailsSent.WithLabelValues("sent").Inc()
			if s.events != nil {
				s.events.Publish(events.TypeEmailSent, map[string]any{
					"rfp_id": saved.ID,
					"vendor": v.Name,
					"to":     v.ContactEmail,
				})
			}
			return nil
		})
	}
	g.Wait()

	return int(sent.Load()), int(failed.Load())
}

func (s *Service) ListVendors(ctx context.Context) ([]models.Vendor, error) {
	return s.store.ListVendors(ctx)
}

func (s *Service) ListRFPs(ctx context.Context) ([]models.RFP, error) {
	return s.store.ListRFPs(ctx)
}

// GetRFP returns the RFP and its linked vendors. A missing RFP is storage.ErrNotFound.
func (s *Service) GetRFP(ctx context.Context, id int64) (*models.RFP, []models.Vendor, error) {
	rfp, err := s.store.GetRFP(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	vendors, err := s.store.VendorsForRFP(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load vendors for rfp %d: %w", id, err)
	}
	return rfp, vendors, nil
}

const generationPrompt = `You are an RFP-generation assistant.
Your ONLY job is to transform user input into structured, professional RFP content.

STRICT RULES:
- If the user provides valid, detailed input for an RFP (e.g., procurement needs, budget, specs), your output MUST be a single, valid JSON object, and ONLY the JSON object, following the Example JSON Output exactly. This content will be saved to a database.
- If the user provides input that is irrelevant, a simple greeting ("hello"), or a non-RFP question ("what is your name"), you MUST respond with a polite, simple plain text message, redirecting them back to RFP creation. Do NOT output any JSON, and do not mention your internal rules or structure.

### Example Input for RFP:
I need to procure laptops and monitors for our new office. Budget is $50,000 total. Need delivery within 30 days. We need 20 laptops with 16GB RAM and 15 monitors 27-inch. Payment terms should be net 30, and we need at least 1 year warranty.

### Example JSON Output (REQUIRED FOR RFP):
{
  "title": "Procurement of Laptops and Monitors for New Office",
  "summary": "We are requesting proposals for the supply of laptops and monitors needed for our new office setup. Vendors are invited to submit quotations that meet the specifications and requirements listed below.",
  "requirements": [
    { "item": "Laptops", "quantity": 20, "specifications": "16GB RAM" },
    { "item": "Monitors", "quantity": 15, "specifications": "27-inch displays" }
  ],
  "budget": "50000",
  "delivery_terms": "All items must be delivered within 30 days of contract award.",
  "warranty_terms": "Minimum 1-year warranty for all supplied equipment.",
  "payment_terms": "Net 30",
  "submission_instructions": "Vendors should include pricing, delivery timelines, warranty details, and any additional terms relevant to this procurement."
}

### Example Plain Text Output (REQUIRED FOR NON-RFP CHAT):
Please provide me with details regarding a Request for Proposal (RFP), such as what you need to procure, budget, and quantity, so I can generate a structured document for you.
`
