// Package correlation maps an inbound vendor reply to the RFP it answers and the vendor who sent it.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/storage"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
)

type Outcome int

const (
	Resolved Outcome = iota
	UnknownRFP
	UnknownVendor
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case UnknownRFP:
		return "unknown_rfp"
	case UnknownVendor:
		return "unknown_vendor"
	default:
		return "unknown"
	}
}

var (
	tagPattern    = regexp.MustCompile(`(?i)\[RFP #(\d+)\]`)
	prefixPattern = regexp.MustCompile(`(?i)^(Re|Fwd|Proposal for):\s*`)
	suffixPattern = regexp.MustCompile(`(?i)\s*-\s*Submission Required.*$`)
)

// Store is the read access the resolver needs.
type Store interface {
	GetRFP(ctx context.Context, id int64) (*models.RFP, error)
	FindRFPByTitle(ctx context.Context, title string, match storage.TitleMatch) (*models.RFP, error)
	VendorsForRFP(ctx context.Context, rfpID int64) ([]models.Vendor, error)
}

type Result struct {
	Outcome Outcome
	RFP     *models.RFP
	Vendor  *models.Vendor
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve determines the (RFP, vendor) pair for a reply. Unresolvable replies are reported
// through the outcome; an error means the store could not be read.
func (r *Resolver) Resolve(ctx context.Context, subject, sender string) (Result, error) {
	rfp, err := r.resolveRFP(ctx, subject)
	if err != nil {
		return Result{}, err
	}
	if rfp == nil {
		return Result{Outcome: UnknownRFP}, nil
	}

	vendors, err := r.store.VendorsForRFP(ctx, rfp.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load vendors for rfp %d: %w", rfp.ID, err)
	}

	vendor := MatchVendor(vendors, sender)
	if vendor == nil {
		logger.Debug("Sender is not linked to rfp",
			zap.Int64("rfp_id", rfp.ID),
			zap.String("sender", sender),
		)
		return Result{Outcome: UnknownVendor, RFP: rfp}, nil
	}

	return Result{Outcome: Resolved, RFP: rfp, Vendor: vendor}, nil
}

func (r *Resolver) resolveRFP(ctx context.Context, subject string) (*models.RFP, error) {
	if id, tagged := ParseTag(subject); tagged {
		if id <= 0 {
			return nil, nil
		}
		rfp, err := r.store.GetRFP(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debug("Tagged rfp does not exist", zap.Int64("rfp_id", id))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load tagged rfp %d: %w", id, err)
		}
		return rfp, nil
	}

	title := CandidateTitle(subject)
	if title == "" {
		return nil, nil
	}

	for _, match := range []storage.TitleMatch{storage.TitleExact, storage.TitleCaseInsensitive, storage.TitleContains} {
		rfp, err := r.store.FindRFPByTitle(ctx, title, match)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up rfp title %q: %w", title, err)
		}
		logger.Debug("RFP resolved by title",
			zap.String("title", title),
			zap.String("match", match.String()),
			zap.Int64("rfp_id", rfp.ID),
		)
		return rfp, nil
	}
	return nil, nil
}

// ParseTag extracts N from an "[RFP #N]" tag. tagged is true whenever a tag is present; an id
// that does not fit in int64 comes back as 0.
func ParseTag(subject string) (id int64, tagged bool) {
	m := tagPattern.FindStringSubmatch(subject)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, true
	}
	return id, true
}

// CandidateTitle strips reply prefixes, the submission suffix and any tag from subject.
func CandidateTitle(subject string) string {
	title := prefixPattern.ReplaceAllString(subject, "")
	title = suffixPattern.ReplaceAllString(title, "")
	return strings.TrimSpace(StripTag(title))
}

// StripTag removes every "[RFP #N]" tag from subject.
func StripTag(subject string) string {
	return tagPattern.ReplaceAllString(subject, "")
}

// MatchVendor returns the vendor whose contact email equals sender, ignoring case.
func MatchVendor(vendors []models.Vendor, sender string) *models.Vendor {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return nil
	}
	for i := range vendors {
		if strings.ToLower(strings.TrimSpace(vendors[i].ContactEmail)) == sender {
			return &vendors[i]
		}
	}
	return nil
}
