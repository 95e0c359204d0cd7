// Package storage defines the persistence contract shared by the SQLite and Postgres backends.
package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rfp-agent/backend/internal/storage/models"
)

var ErrNotFound = errors.New("not found")

// TitleMatch selects how FindRFPByTitle compares the candidate against stored titles.
type TitleMatch int

const (
	TitleExact TitleMatch = iota
	TitleCaseInsensitive
	TitleContains
)

func (m TitleMatch) String() string {
	switch m {
	case TitleExact:
		return "exact"
	case TitleCaseInsensitive:
		return "case_insensitive"
	case TitleContains:
		return "contains"
	default:
		return "unknown"
	}
}

type Store interface {
	CreateRFP(ctx context.Context, title string, requirements json.RawMessage) (*models.RFP, error)
	UpdateRFPStatus(ctx context.Context, id int64, status string) error
	GetRFP(ctx context.Context, id int64) (*models.RFP, error)
	ListRFPs(ctx context.Context) ([]models.RFP, error)
	// FindRFPByTitle returns the most recently created match, or ErrNotFound.
	FindRFPByTitle(ctx context.Context, title string, match TitleMatch) (*models.RFP, error)

	SeedVendors(ctx context.Context, vendors []models.Vendor) error
	ListVendors(ctx context.Context) ([]models.Vendor, error)
	GetVendorsByIDs(ctx context.Context, ids []int64) ([]models.Vendor, error)
	LinkVendor(ctx context.Context, rfpID, vendorID int64) error
	VendorsForRFP(ctx context.Context, rfpID int64) ([]models.Vendor, error)

	IsProcessed(ctx context.Context, messageID string) (bool, error)
	// MarkProcessed records messageID in the ledger and reports whether this call inserted it.
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
	// SaveProposal claims messageID in the ledger and upserts the proposal in one transaction.
	// It returns false without writing anything when the message was already claimed.
	SaveProposal(ctx context.Context, messageID string, p *models.Proposal) (bool, error)
	ListProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error)
	// ListRankedProposals orders by score (nulls last), then newest first.
	ListRankedProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error)

	GetRecommendation(ctx context.Context, rfpID int64) (*models.Recommendation, error)
	// InsertRecommendationIfAbsent reports whether this call wrote the row.
	InsertRecommendationIfAbsent(ctx context.Context, rfpID int64, rec *models.Recommendation) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// EscapeLike escapes LIKE wildcards so a candidate title matches literally. Use with ESCAPE '\'.
func EscapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
