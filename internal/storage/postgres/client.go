package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/storage"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/config"
	"github.com/rfp-agent/backend/pkg/logger"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Client struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Client)(nil)

func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger.Info("Postgres client initialized",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)

	return &Client{pool: pool}, nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *Client) CreateRFP(ctx context.Context, title string, requirements json.RawMessage) (*models.RFP, error) {
	query, args, err := psql.Insert("rfps").
		Columns("title", "status", "structured_requirements").
		Values(title, models.RFPStatusDraft, nullableJSON(requirements)).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build rfp insert: %w", err)
	}

	rfp := &models.RFP{Title: title, Status: models.RFPStatusDraft, StructuredRequirements: requirements}
	if err := c.pool.QueryRow(ctx, query, args...).Scan(&rfp.ID, &rfp.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert rfp: %w", err)
	}
	return rfp, nil
}

func (c *Client) UpdateRFPStatus(ctx context.Context, id int64, status string) error {
	query, args, err := psql.Update("rfps").Set("status", status).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build status update: %w", err)
	}
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update rfp status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func rfpSelect() sq.SelectBuilder {
	return psql.Select("id", "title", "status", "structured_requirements", "created_at").From("rfps")
}

func (c *Client) GetRFP(ctx context.Context, id int64) (*models.RFP, error) {
	query, args, err := rfpSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build rfp select: %w", err)
	}
	rfp, err := scanRFP(c.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get rfp %d: %w", id, err)
	}
	return rfp, nil
}

func (c *Client) ListRFPs(ctx context.Context) ([]models.RFP, error) {
	query, args, err := rfpSelect().OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build rfp list: %w", err)
	}
	rows, err := c.pool.Query(ctx, query, args...)
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
	builder := rfpSelect()
	switch match {
	case storage.TitleExact:
		builder = builder.Where(sq.Eq{"title": title})
	case storage.TitleCaseInsensitive:
		builder = builder.Where("LOWER(title) = LOWER(?)", title)
	case storage.TitleContains:
		builder = builder.Where(`title ILIKE ? ESCAPE '\'`, "%"+storage.EscapeLike(title)+"%")
	default:
		return nil, fmt.Errorf("unsupported title match %d", match)
	}

	query, args, err := builder.OrderBy("created_at DESC", "id DESC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build title lookup: %w", err)
	}

	rfp, err := scanRFP(c.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find rfp by title (%s): %w", match, err)
	}
	return rfp, nil
}

func (c *Client) SeedVendors(ctx context.Context, vendors []models.Vendor) error {
	if len(vendors) == 0 {
		return nil
	}

	builder := psql.Insert("vendors").Columns("vendor_name", "contact_name", "contact_email")
	for _, v := range vendors {
		builder = builder.Values(v.Name, v.ContactName, strings.ToLower(strings.TrimSpace(v.ContactEmail)))
	}
	query, args, err := builder.Suffix("ON CONFLICT (contact_email) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("failed to build vendor seed: %w", err)
	}

	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to seed vendors: %w", err)
	}
	return nil
}

func vendorSelect() sq.SelectBuilder {
	return psql.Select("v.id", "v.vendor_name", "v.contact_name", "v.contact_email").From("vendors v")
}

func (c *Client) ListVendors(ctx context.Context) ([]models.Vendor, error) {
	return c.queryVendors(ctx, vendorSelect().OrderBy("v.vendor_name ASC"))
}

func (c *Client) GetVendorsByIDs(ctx context.Context, ids []int64) ([]models.Vendor, error) {
	if len(ids) == 0 {
		return []models.Vendor{}, nil
	}
	return c.queryVendors(ctx, vendorSelect().Where(sq.Eq{"v.id": ids}).OrderBy("v.id"))
}

func (c *Client) LinkVendor(ctx context.Context, rfpID, vendorID int64) error {
	query, args, err := psql.Insert("rfp_vendors").
		Columns("rfp_id", "vendor_id").
		Values(rfpID, vendorID).
		Suffix("ON CONFLICT (rfp_id, vendor_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build vendor link: %w", err)
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to link vendor %d to rfp %d: %w", vendorID, rfpID, err)
	}
	return nil
}

func (c *Client) VendorsForRFP(ctx context.Context, rfpID int64) ([]models.Vendor, error) {
	return c.queryVendors(ctx, vendorSelect().
		Join("rfp_vendors rv ON rv.vendor_id = v.id").
		Where(sq.Eq{"rv.rfp_id": rfpID}).
		OrderBy("v.id"))
}

func (c *Client) queryVendors(ctx context.Context, builder sq.SelectBuilder) ([]models.Vendor, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build vendor query: %w", err)
	}
	rows, err := c.pool.Query(ctx, query, args...)
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
	query, args, err := psql.Select("1").
		Prefix("SELECT EXISTS (").
		From("processed_mailbox_messages").
		Where(sq.Eq{"message_id": messageID}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build ledger check: %w", err)
	}

	var exists bool
	if err := c.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return exists, nil
}

func (c *Client) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	query, args, err := ledgerInsert(messageID)
	if err != nil {
		return false, err
	}
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func ledgerInsert(messageID string) (string, []any, error) {
	query, args, err := psql.Insert("processed_mailbox_messages").
		Columns("message_id").
		Values(messageID).
		Suffix("ON CONFLICT (message_id) DO NOTHING").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build ledger insert: %w", err)
	}
	return query, args, nil
}

func (c *Client) SaveProposal(ctx context.Context, messageID string, p *models.Proposal) (bool, error) {
	extracted, err := json.Marshal(p.ExtractedData)
	if err != nil {
		return false, fmt.Errorf("failed to marshal extracted data: %w", err)
	}

	ledgerQuery, ledgerArgs, err := ledgerInsert(messageID)
	if err != nil {
		return false, err
	}
	upsertQuery, upsertArgs, err := psql.Insert("proposals").
		Columns("rfp_id", "vendor_id", "extracted_data", "ai_summary", "ai_score").
		Values(p.RFPID, p.VendorID, extracted, p.Summary, p.Score).
		Suffix(`ON CONFLICT (rfp_id, vendor_id) DO UPDATE SET
			extracted_data = EXCLUDED.extracted_data,
			ai_summary = EXCLUDED.ai_summary,
			ai_score = EXCLUDED.ai_score`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build proposal upsert: %w", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, ledgerQuery, ledgerArgs...)
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, upsertQuery, upsertArgs...); err != nil {
		return false, fmt.Errorf("failed to upsert proposal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit proposal: %w", err)
	}

	logger.Debug("Proposal stored",
		zap.String("message_id", messageID),
		zap.Int64("rfp_id", p.RFPID),
		zap.Int64("vendor_id", p.VendorID),
	)
	return true, nil
}

func proposalSelect(rfpID int64) sq.SelectBuilder {
	return psql.Select(
		"p.id", "p.rfp_id", "p.extracted_data", "p.ai_summary", "p.ai_score", "p.created_at",
		"v.vendor_name", "v.contact_email",
	).
		From("proposals p").
		Join("vendors v ON p.vendor_id = v.id").
		Where(sq.Eq{"p.rfp_id": rfpID})
}

func (c *Client) ListProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error) {
	return c.queryProposals(ctx, proposalSelect(rfpID).OrderBy("p.created_at DESC", "p.id DESC"))
}

func (c *Client) ListRankedProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error) {
	return c.queryProposals(ctx,
		proposalSelect(rfpID).OrderBy("p.ai_score DESC NULLS LAST", "p.created_at DESC", "p.id DESC"))
}

func (c *Client) queryProposals(ctx context.Context, builder sq.SelectBuilder) ([]models.ProposalView, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build proposal query: %w", err)
	}
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	proposals := []models.ProposalView{}
	for rows.Next() {
		var (
			p         models.ProposalView
			extracted []byte
		)
		if err := rows.Scan(&p.ID, &p.RFPID, &extracted, &p.Summary, &p.Score, &p.CreatedAt, &p.VendorName, &p.ContactEmail); err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		if err := json.Unmarshal(extracted, &p.ExtractedData); err != nil {
			logger.Warn("Stored extracted data is not valid JSON", zap.Int64("proposal_id", p.ID), zap.Error(err))
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (c *Client) GetRecommendation(ctx context.Context, rfpID int64) (*models.Recommendation, error) {
	query, args, err := psql.Select("recommendation_data").
		From("rfp_recommendations").
		Where(sq.Eq{"rfp_id": rfpID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build recommendation select: %w", err)
	}

	var data []byte
	err = c.pool.QueryRow(ctx, query, args...).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}

	var rec models.Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation: %w", err)
	}
	return &rec, nil
}

func (c *Client) InsertRecommendationIfAbsent(ctx context.Context, rfpID int64, rec *models.Recommendation) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal recommendation: %w", err)
	}

	query, args, err := psql.Insert("rfp_recommendations").
		Columns("rfp_id", "recommendation_data").
		Values(rfpID, data).
		Suffix("ON CONFLICT (rfp_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build recommendation insert: %w", err)
	}

	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert recommendation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanRFP(row pgx.Row) (*models.RFP, error) {
	var (
		rfp          models.RFP
		requirements []byte
	)
	err := row.Scan(&rfp.ID, &rfp.Title, &rfp.Status, &requirements, &rfp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(requirements) > 0 {
		rfp.StructuredRequirements = json.RawMessage(requirements)
	}
	return &rfp, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
