package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/storage"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

var _ storage.Store = (*Client)(nil)

func NewClient(dbPath string) (*Client, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", dbPath, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rfps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		structured_requirements TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rfps_title ON rfps(title);
	CREATE INDEX IF NOT EXISTS idx_rfps_created ON rfps(created_at);

	CREATE TABLE IF NOT EXISTS vendors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vendor_name TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		contact_email TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS rfp_vendors (
		rfp_id INTEGER NOT NULL,
		vendor_id INTEGER NOT NULL,
		PRIMARY KEY (rfp_id, vendor_id),
		FOREIGN KEY (rfp_id) REFERENCES rfps(id) ON DELETE CASCADE,
		FOREIGN KEY (vendor_id) REFERENCES vendors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rfp_id INTEGER NOT NULL,
		vendor_id INTEGER NOT NULL,
		extracted_data TEXT NOT NULL,
		ai_summary TEXT NOT NULL DEFAULT '',
		ai_score INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE (rfp_id, vendor_id),
		FOREIGN KEY (rfp_id) REFERENCES rfps(id) ON DELETE CASCADE,
		FOREIGN KEY (vendor_id) REFERENCES vendors(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_rfp ON proposals(rfp_id);

	CREATE TABLE IF NOT EXISTS rfp_recommendations (
		rfp_id INTEGER PRIMARY KEY,
		recommendation_data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (rfp_id) REFERENCES rfps(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS processed_mailbox_messages (
		message_id TEXT PRIMARY KEY,
		processed_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateRFP(ctx context.Context, title string, requirements json.RawMessage) (*models.RFP, error) {
	now := time.Now()

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO rfps (title, status, structured_requirements, created_at) VALUES (?, ?, ?, ?)`,
		title, models.RFPStatusDraft, nullableJSON(requirements), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rfp: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read rfp id: %w", err)
	}

	logger.Debug("RFP inserted", zap.Int64("rfp_id", id), zap.String("title", title))

	return &models.RFP{
		ID:                     id,
		Title:                  title,
		Status:                 models.RFPStatusDraft,
		StructuredRequirements: requirements,
		CreatedAt:              time.UnixMilli(now.UnixMilli()),
	}, nil
}

func (c *Client) UpdateRFPStatus(ctx context.Context, id int64, status string) error {
	res, err := c.db.ExecContext(ctx, `UPDATE rfps SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update rfp status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const rfpColumns = `id, title, status, structured_requirements, created_at`

func (c *Client) GetRFP(ctx context.Context, id int64) (*models.RFP, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+rfpColumns+` FROM rfps WHERE id = ?`, id)
	rfp, err := scanRFP(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get rfp %d: %w", id, err)
	}
	return rfp, nil
}

func (c *Client) ListRFPs(ctx context.Context) ([]models.RFP, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+rfpColumns+` FROM rfps ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rfps: %w", err)
	}
	defer rows.Close()

	rfps := []models.RFP{}
	for rows.Next() {
		rfp, err := scanRFP(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rfp: %w", err)
		}
		rfps = append(rfps, *rfp)
	}
	return rfps, rows.Err()
}

func (c *Client) FindRFPByTitle(ctx context.Context, title string, match storage.TitleMatch) (*models.RFP, error) {
	var (
		where string
		arg   string
	)
	switch match {
	case storage.TitleExact:
		where, arg = `title = ?`, title
	case storage.TitleCaseInsensitive:
		where, arg = `LOWER(title) = LOWER(?)`, title
	case storage.TitleContains:
		where, arg = `LOWER(title) LIKE LOWER(?) ESCAPE '\'`, "%"+storage.EscapeLike(title)+"%"
	default:
		return nil, fmt.Errorf("unsupported title match %d", match)
	}

	row := c.db.QueryRowContext(ctx,
		`SELECT `+rfpColumns+` FROM rfps WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT 1`, arg)
	rfp, err := scanRFP(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find rfp by title (%s): %w", match, err)
	}
	return rfp, nil
}

func (c *Client) SeedVendors(ctx context.Context, vendors []models.Vendor) error {
	for _, v := range vendors {
		_, err := c.db.ExecContext(ctx,
			`INSERT INTO vendors (vendor_name, contact_name, contact_email) VALUES (?, ?, ?)
			 ON CONFLICT(contact_email) DO NOTHING`,
			v.Name, v.ContactName, strings.ToLower(strings.TrimSpace(v.ContactEmail)),
		)
		if err != nil {
			return fmt.Errorf("failed to seed vendor %s: %w", v.ContactEmail, err)
		}
	}
	return nil
}

func (c *Client) ListVendors(ctx context.Context) ([]models.Vendor, error) {
	return c.queryVendors(ctx,
		`SELECT id, vendor_name, contact_name, contact_email FROM vendors ORDER BY vendor_name ASC`)
}

func (c *Client) GetVendorsByIDs(ctx context.Context, ids []int64) ([]models.Vendor, error) {
	if len(ids) == 0 {
		return []models.Vendor{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return c.queryVendors(ctx,
		`SELECT id, vendor_name, contact_name, contact_email FROM vendors WHERE id IN (`+placeholders+`) ORDER BY id`,
		args...)
}

func (c *Client) LinkVendor(ctx context.Context, rfpID, vendorID int64) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO rfp_vendors (rfp_id, vendor_id) VALUES (?, ?) ON CONFLICT(rfp_id, vendor_id) DO NOTHING`,
		rfpID, vendorID,
	)
	if err != nil {
		return fmt.Errorf("failed to link vendor %d to rfp %d: %w", vendorID, rfpID, err)
	}
	return nil
}

func (c *Client) VendorsForRFP(ctx context.Context, rfpID int64) ([]models.Vendor, error) {
	return c.queryVendors(ctx,
		`SELECT v.id, v.vendor_name, v.contact_name, v.contact_email
		 FROM vendors v
		 JOIN rfp_vendors rv ON rv.vendor_id = v.id
		 WHERE rv.rfp_id = ?
		 ORDER BY v.id`,
		rfpID)
}

func (c *Client) queryVendors(ctx context.Context, query string, args ...any) ([]models.Vendor, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors: %w", err)
	}
	defer rows.Close()

	vendors := []models.Vendor{}
	for rows.Next() {
		var v models.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.ContactName, &v.ContactEmail); err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

func (c *Client) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_mailbox_messages WHERE message_id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return true, nil
}

func (c *Client) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	return markProcessed(ctx, c.db, messageID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func markProcessed(ctx context.Context, db execer, messageID string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO processed_mailbox_messages (message_id, processed_at) VALUES (?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		messageID, time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read ledger insert result: %w", err)
	}
	return n == 1, nil
}

func (c *Client) SaveProposal(ctx context.Context, messageID string, p *models.Proposal) (saved bool, err error) {
	extracted, err := json.Marshal(p.ExtractedData)
	if err != nil {
		return false, fmt.Errorf("failed to marshal extracted data: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if !saved {
			tx.Rollback()
		}
	}()

	claimed, err := markProcessed(ctx, tx, messageID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (rfp_id, vendor_id, extracted_data, ai_summary, ai_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(rfp_id, vendor_id) DO UPDATE SET
			extracted_data = excluded.extracted_data,
			ai_summary = excluded.ai_summary,
			ai_score = excluded.ai_score
	`, p.RFPID, p.VendorID, string(extracted), p.Summary, nullableInt(p.Score), time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to upsert proposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit proposal: %w", err)
	}

	logger.Debug("Proposal stored",
		zap.String("message_id", messageID),
		zap.Int64("rfp_id", p.RFPID),
		zap.Int64("vendor_id", p.VendorID),
	)
	return true, nil
}

const proposalSelect = `
	SELECT p.id, p.rfp_id, p.extracted_data, p.ai_summary, p.ai_score, p.created_at,
	       v.vendor_name, v.contact_email
	FROM proposals p
	JOIN vendors v ON p.vendor_id = v.id
	WHERE p.rfp_id = ?`

func (c *Client) ListProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error) {
	return c.queryProposals(ctx, proposalSelect+` ORDER BY p.created_at DESC, p.id DESC`, rfpID)
}

func (c *Client) ListRankedProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error) {
	return c.queryProposals(ctx,
		proposalSelect+` ORDER BY p.ai_score DESC NULLS LAST, p.created_at DESC, p.id DESC`, rfpID)
}

func (c *Client) queryProposals(ctx context.Context, query string, rfpID int64) ([]models.ProposalView, error) {
	rows, err := c.db.QueryContext(ctx, query, rfpID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	proposals := []models.ProposalView{}
	for rows.Next() {
		var (
			p         models.ProposalView
			extracted string
			score     sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.RFPID, &extracted, &p.Summary, &score, &createdAt, &p.VendorName, &p.ContactEmail); err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &p.ExtractedData); err != nil {
			logger.Warn("Stored extracted data is not valid JSON", zap.Int64("proposal_id", p.ID), zap.Error(err))
		}
		if score.Valid {
			s := int(score.Int64)
			p.Score = &s
		}
		p.CreatedAt = time.UnixMilli(createdAt)
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (c *Client) GetRecommendation(ctx context.Context, rfpID int64) (*models.Recommendation, error) {
	var data string
	err := c.db.QueryRowContext(ctx,
		`SELECT recommendation_data FROM rfp_recommendations WHERE rfp_id = ?`, rfpID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}

	var rec models.Recommendation
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation: %w", err)
	}
	return &rec, nil
}

func (c *Client) InsertRecommendationIfAbsent(ctx context.Context, rfpID int64, rec *models.Recommendation) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal recommendation: %w", err)
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO rfp_recommendations (rfp_id, recommendation_data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(rfp_id) DO NOTHING`,
		rfpID, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert recommendation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read recommendation insert result: %w", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRFP(row rowScanner) (*models.RFP, error) {
	var (
		rfp          models.RFP
		requirements sql.NullString
		createdAt    int64
	)
	err := row.Scan(&rfp.ID, &rfp.Title, &rfp.Status, &requirements, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if requirements.Valid && requirements.String != "" {
		rfp.StructuredRequirements = json.RawMessage(requirements.String)
	}
	rfp.CreatedAt = time.UnixMilli(createdAt)
	return &rfp, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
