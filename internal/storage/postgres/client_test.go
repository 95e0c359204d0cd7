package postgres

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/rfp-agent/backend/internal/storage"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/config"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in migrations: %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for version := range ups {
		if !downs[version] {
			t.Errorf("migration %s has no down file", version)
		}
	}
}

func TestInitMigrationCreatesAllTables(t *testing.T) {
	data, err := fs.ReadFile(migrationFS, "migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, table := range []string{
		"rfps", "vendors", "rfp_vendors", "proposals", "rfp_recommendations", "processed_mailbox_messages",
	} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("init migration does not create %s", table)
		}
	}
}

// newIntegrationClient connects to a disposable database named by RFP_AGENT_TEST_POSTGRES_DSN.
func newIntegrationClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("RFP_AGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RFP_AGENT_TEST_POSTGRES_DSN not set")
	}

	if _, dirty, err := RunMigrations(dsn); err != nil || dirty {
		t.Fatalf("RunMigrations: dirty=%v err=%v", dirty, err)
	}

	ctx := context.Background()
	c, err := NewClient(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	_, err = c.pool.Exec(ctx, `TRUNCATE processed_mailbox_messages, rfp_recommendations, proposals, rfp_vendors, vendors, rfps RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return c
}

func TestIntegrationSaveProposalLedger(t *testing.T) {
	c := newIntegrationClient(t)
	ctx := context.Background()

	if err := c.SeedVendors(ctx, []models.Vendor{{Name: "Tech Supply Co.", ContactEmail: "vendor1@test.com"}}); err != nil {
		t.Fatalf("SeedVendors: %v", err)
	}
	vendors, err := c.ListVendors(ctx)
	if err != nil || len(vendors) != 1 {
		t.Fatalf("ListVendors = %v, %v", vendors, err)
	}
	rfp, err := c.CreateRFP(ctx, "Office Chairs", []byte(`{"title":"Office Chairs"}`))
	if err != nil {
		t.Fatalf("CreateRFP: %v", err)
	}
	if err := c.LinkVendor(ctx, rfp.ID, vendors[0].ID); err != nil {
		t.Fatalf("LinkVendor: %v", err)
	}

	score := 70
	p := &models.Proposal{
		RFPID: rfp.ID, VendorID: vendors[0].ID, Score: &score,
		ExtractedData: models.ExtractedFields{Price: "$100", Delivery: "N/A", Warranty: "N/A", OtherDetails: "N/A"},
	}
	if saved, err := c.SaveProposal(ctx, "m-1", p); err != nil || !saved {
		t.Fatalf("SaveProposal = %v, %v", saved, err)
	}
	if saved, err := c.SaveProposal(ctx, "m-1", p); err != nil || saved {
		t.Fatalf("duplicate SaveProposal = %v, %v", saved, err)
	}

	proposals, err := c.ListRankedProposals(ctx, rfp.ID)
	if err != nil || len(proposals) != 1 {
		t.Fatalf("ListRankedProposals = %v, %v", proposals, err)
	}
	if proposals[0].ExtractedData.Price != "$100" {
		t.Errorf("price = %q", proposals[0].ExtractedData.Price)
	}

	got, err := c.FindRFPByTitle(ctx, "CHAIRS", storage.TitleContains)
	if err != nil || got.ID != rfp.ID {
		t.Errorf("FindRFPByTitle = %v, %v", got, err)
	}
	if _, err := c.FindRFPByTitle(ctx, "%", storage.TitleContains); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("wildcard title should not match, err = %v", err)
	}

	rec := &models.Recommendation{RecommendedVendor: "Tech Supply Co.", KeyFactors: []string{"Price"}}
	if wrote, err := c.InsertRecommendationIfAbsent(ctx, rfp.ID, rec); err != nil || !wrote {
		t.Fatalf("InsertRecommendationIfAbsent = %v, %v", wrote, err)
	}
	if wrote, _ := c.InsertRecommendationIfAbsent(ctx, rfp.ID, &models.Recommendation{}); wrote {
		t.Error("recommendation overwritten")
	}
}
