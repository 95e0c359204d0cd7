package models

import (
	"encoding/json"
	"time"
)

const (
	RFPStatusDraft = "DRAFT"
	RFPStatusSent  = "SENT"
)

const NotAvailable = "N/A"

type RFP struct {
	ID                     int64           `json:"id"`
	Title                  string          `json:"title"`
	Status                 string          `json:"status"`
	StructuredRequirements json.RawMessage `json:"structured_requirements,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

type Vendor struct {
	ID           int64  `json:"id"`
	Name         string `json:"vendor_name"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email"`
}

// ExtractedFields is the structured view of a vendor reply. RawText is only set when
// the model output could not be parsed.
type ExtractedFields struct {
	Price        string `json:"price"`
	Delivery     string `json:"delivery"`
	Warranty     string `json:"warranty"`
	OtherDetails string `json:"other_details"`
	RawText      string `json:"raw_text,omitempty"`
}

func (f ExtractedFields) HasPrice() bool {
	return f.Price != "" && f.Price != NotAvailable
}

func (f ExtractedFields) HasDelivery() bool {
	return f.Delivery != "" && f.Delivery != NotAvailable
}

type Proposal struct {
	ID            int64
	RFPID         int64
	VendorID      int64
	ExtractedData ExtractedFields
	Summary       string
	Score         *int
	CreatedAt     time.Time
}

// ProposalView is a proposal joined with its vendor, as served to the presentation layer.
type ProposalView struct {
	ID            int64           `json:"id"`
	RFPID         int64           `json:"rfp_id"`
	ExtractedData ExtractedFields `json:"extracted_data"`
	Summary       string          `json:"ai_summary"`
	Score         *int            `json:"ai_score"`
	CreatedAt     time.Time       `json:"created_at"`
	VendorName    string          `json:"vendor_name"`
	ContactEmail  string          `json:"contact_email"`
}

type Recommendation struct {
	RecommendedVendor   string   `json:"recommended_vendor"`
	RecommendedVendorID *int64   `json:"recommended_vendor_id,omitempty"`
	Reasoning           string   `json:"reasoning"`
	KeyFactors          []string `json:"key_factors"`
}
