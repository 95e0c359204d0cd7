// Package pipeline runs the poll pass that turns vendor replies in the procurement inbox into
// scored proposals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/correlation"
	"github.com/rfp-agent/backend/internal/events"
	"github.com/rfp-agent/backend/internal/mailbox"
	"github.com/rfp-agent/backend/internal/metrics"
	"github.com/rfp-agent/backend/internal/scoring"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
)

// ErrPassInProgress is returned to a manual trigger that arrives while a pass is running.
var ErrPassInProgress = errors.New("poll pass already in progress")

const (
	TriggerStartup = "startup"
	TriggerTimer   = "timer"
	TriggerManual  = "manual"
)

const (
	outcomeNotAddressed = "not_addressed"
	outcomeNoID         = "no_id"
	outcomeProcessed    = "already_processed"
	outcomeUnresolved   = "unresolved"
	outcomeSaved        = "saved"
	outcomeDuplicate    = "duplicate"
	outcomeFailed       = "failed"
)

type Inbox interface {
	ListMessages(ctx context.Context) []mailbox.RawMessage
}

type Store interface {
	correlation.Store
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
	SaveProposal(ctx context.Context, messageID string, p *models.Proposal) (bool, error)
}

type Extractor interface {
	Extract(ctx context.Context, rfpTitle, vendorName, proposalText string) models.ExtractedFields
	Summarize(ctx context.Context, rfpTitle, vendorName, proposalText string) string
}

type Scorer interface {
	Score(ctx context.Context, in scoring.Input) scoring.Result
}

type Publisher interface {
	Publish(eventType string, data map[string]any)
}

type Options struct {
	ProcurementEmail string
	Interval         time.Duration
	RunOnStart       bool
}

// PassResult counts what a single pass did with the listed messages. Skipped covers messages
// already in the ledger and replies that could not be correlated.
type PassResult struct {
	Fetched    int `json:"fetched"`
	Addressed  int `json:"addressed"`
	Saved      int `json:"saved"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

type Driver struct {
	inbox     Inbox
	store     Store
	resolver  *correlation.Resolver
	extractor Extractor
	scorer    Scorer
	events    Publisher
	opts      Options

	running sync.Mutex
}

// NewDriver builds a driver. events may be nil.
func NewDriver(inbox Inbox, store Store, extractor Extractor, scorer Scorer, events Publisher, opts Options) *Driver {
	return &Driver{
		inbox:     inbox,
		store:     store,
		resolver:  correlation.NewResolver(store),
		extractor: extractor,
		scorer:    scorer,
		events:    events,
		opts:      opts,
	}
}

// Start runs passes on the configured interval until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) {
	logger.Info("Poll driver started",
		zap.Duration("interval", d.opts.Interval),
		zap.String("mailbox", d.opts.ProcurementEmail),
	)

	if d.opts.RunOnStart {
		d.runScheduled(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Poll driver stopped")
			return
		case <-ticker.C:
			d.runScheduled(ctx, TriggerTimer)
		}
	}
}

func (d *Driver) runScheduled(ctx context.Context, trigger string) {
	_, err := d.RunOnce(ctx, trigger)
	switch {
	case errors.Is(err, ErrPassInProgress):
		logger.Debug("Skipping tick, pass still running")
	case err != nil && ctx.Err() == nil:
		logger.Error("Poll pass failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

// RunOnce performs one pass over the inbox. Only one pass runs at a time per driver; a call
// made while another is running returns ErrPassInProgress immediately.
func (d *Driver) RunOnce(ctx context.Context, trigger string) (*PassResult, error) {
	if !d.running.TryLock() {
		metrics.PollPasses.WithLabelValues(trigger, "skipped").Inc()
		return nil, ErrPassInProgress
	}
	defer d.running.Unlock()

	start := time.Now()
	res := &PassResult{}

	messages := d.inbox.ListMessages(ctx)
	res.Fetched = len(messages)

	var err error
	for _, msg := range messages {
		if err = ctx.Err(); err != nil {
			break
		}

		outcome := d.processMessage(ctx, msg)
		metrics.MessagesProcessed.WithLabelValues(outcome).Inc()

		switch outcome {
		case outcomeNotAddressed:
			continue
		case outcomeSaved:
			res.Saved++
		case outcomeDuplicate:
			res.Duplicates++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
		res.Addressed++
	}

	elapsed := time.Since(start)
	metrics.PollPassDuration.Observe(elapsed.Seconds())

	result := "ok"
	if err != nil {
		result = "cancelled"
	}
	metrics.PollPasses.WithLabelValues(trigger, result).Inc()

	logger.Info("Poll pass complete",
		zap.String("trigger", trigger),
		zap.Int("fetched", res.Fetched),
		zap.Int("addressed", res.Addressed),
		zap.Int("saved", res.Saved),
		zap.Int("skipped", res.Skipped),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", elapsed),
	)

	d.publish(events.TypePassCompleted, map[string]any{
		"trigger":    trigger,
		"fetched":    res.Fetched,
		"addressed":  res.Addressed,
		"saved":      res.Saved,
		"skipped":    res.Skipped,
		"duplicates": res.Duplicates,
		"failed":     res.Failed,
	})

	return res, err
}

func (d *Driver) processMessage(ctx context.Context, msg mailbox.RawMessage) string {
	if !mailbox.AddressedTo(msg, d.opts.ProcurementEmail) {
		return outcomeNotAddressed
	}

	messageID := msg.Key()
	if messageID == "" {
		logger.Warn("Message has no id, cannot record it", zap.String("subject", mailbox.SubjectLine(msg)))
		return outcomeNoID
	}

	log := logger.GetLogger().With(zap.String("message_id", messageID))

	processed, err := d.store.IsProcessed(ctx, messageID)
	if err != nil {
		log.Error("Failed to check ledger", zap.Error(err))
		return outcomeFailed
	}
	if processed {
		return outcomeProcessed
	}

	subject := mailbox.SubjectLine(msg)
	sender := mailbox.SenderAddress(msg)

	match, err := d.resolver.Resolve(ctx, subject, sender)
	if err != nil {
		log.Error("Failed to correlate reply", zap.Error(err))
		return outcomeFailed
	}
	if match.Outcome != correlation.Resolved {
		log.Info("Reply not correlated, marking processed",
			zap.String("subject", subject),
			zap.String("sender", sender),
			zap.Stringer("outcome", match.Outcome),
		)
		if _, err := d.store.MarkProcessed(ctx, messageID); err != nil {
			log.Error("Failed to mark message processed", zap.Error(err))
			return outcomeFailed
		}
		return outcomeUnresolved
	}

	proposal, err := d.evaluate(ctx, match, mailbox.BodyText(msg))
	if err != nil {
		log.Error("Failed to evaluate proposal", zap.Error(err))
		return outcomeFailed
	}

	saved, err := d.store.SaveProposal(ctx, messageID, proposal)
	if err != nil {
		log.Error("Failed to save proposal", zap.Int64("rfp_id", match.RFP.ID), zap.Error(err))
		return outcomeFailed
	}
	if !saved {
		log.Info("Message claimed by another pass", zap.Int64("rfp_id", match.RFP.ID))
		return outcomeDuplicate
	}

	log.Info("Proposal saved",
		zap.Int64("rfp_id", match.RFP.ID),
		zap.String("vendor", match.Vendor.Name),
		zap.Int("score", *proposal.Score),
	)
	d.publish(events.TypeProposalSaved, map[string]any{
		"message_id": messageID,
		"rfp_id":     match.RFP.ID,
		"vendor_id":  match.Vendor.ID,
		"vendor":     match.Vendor.Name,
		"score":      *proposal.Score,
	})
	return outcomeSaved
}

// evaluate runs extraction, summary and scoring in order. None of them fail; only a cancelled
// context stops the message.
func (d *Driver) evaluate(ctx context.Context, match correlation.Result, text string) (*models.Proposal, error) {
	rfp, vendor := match.RFP, match.Vendor

	extracted := d.extractor.Extract(ctx, rfp.Title, vendor.Name, text)
	summary := d.extractor.Summarize(ctx, rfp.Title, vendor.Name, text)
	result := d.scorer.Score(ctx, scoring.Input{
		RFPTitle:     rfp.Title,
		Requirements: rfp.StructuredRequirements,
		VendorName:   vendor.Name,
		Extracted:    extracted,
		ProposalText: text,
	})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation interrupted: %w", err)
	}

	score := result.Score
	return &models.Proposal{
		RFPID:         rfp.ID,
		VendorID:      vendor.ID,
		ExtractedData: extracted,
		Summary:       summary,
		Score:         &score,
	}, nil
}

func (d *Driver) publish(eventType string, data map[string]any) {
	if d.events != nil {
		d.events.Publish(eventType, data)
	}
}
