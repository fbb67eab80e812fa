package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

// Schema creates the tables used by Repository. Structured attributes are
// kept in jsonb columns; events live inside the asset row and disappear with
// it.
const Schema = `
CREATE TABLE IF NOT EXISTS asset (
	id                  UUID PRIMARY KEY,
	original_filename   TEXT NOT NULL,
	label               TEXT NOT NULL DEFAULT '',
	annotations         JSONB NOT NULL DEFAULT '[]',
	transcriptions      JSONB NOT NULL DEFAULT '[]',
	technical_metadata  JSONB NOT NULL DEFAULT '{}',
	preservation_file   JSONB,
	preservation_backup JSONB,
	derivatives         JSONB NOT NULL DEFAULT '[]',
	preservation_events JSONB NOT NULL DEFAULT '[]',
	created_by          TEXT NOT NULL DEFAULT '',
	updated_by          TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	lock_version        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS item (
	id                   UUID PRIMARY KEY,
	unique_identifier    TEXT NOT NULL CONSTRAINT item_unique_identifier_key UNIQUE,
	human_readable_name  TEXT NOT NULL,
	descriptive_metadata JSONB NOT NULL DEFAULT '{}',
	structural_metadata  JSONB NOT NULL DEFAULT '{}',
	ocr_strategy         TEXT NOT NULL DEFAULT '',
	asset_ids            UUID[] NOT NULL DEFAULT '{}',
	thumbnail_asset_id   UUID,
	published            BOOLEAN NOT NULL DEFAULT FALSE,
	first_published_at   TIMESTAMPTZ,
	last_published_at    TIMESTAMPTZ,
	published_by         TEXT NOT NULL DEFAULT '',
	created_by           TEXT NOT NULL DEFAULT '',
	updated_by           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	lock_version         INTEGER NOT NULL DEFAULT 1
);
`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements preservation.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

var _ preservation.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "unique_identifier") {
				return preservation.ErrDuplicateIdentifier
			}
			return fmt.Errorf("duplicate entry in %s", operation)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Asset operations

const assetColumns = `id, original_filename, label, annotations, transcriptions,
	technical_metadata, preservation_file, preservation_backup, derivatives,
	preservation_events, created_by, updated_by, created_at, updated_at, lock_version`

// assetJSON holds the jsonb encoded attributes of an asset.
type assetJSON struct {
	annotations, transcriptions, technical, file, backup, derivatives, events []byte
}

func encodeAsset(a *preservation.Asset) (assetJSON, error) {
	var (
		enc assetJSON
		err error
	)
	marshal := func(v interface{}) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = json.Marshal(v)
		return b
	}
	enc.annotations = marshal(nonNil(a.Annotations))
	enc.transcriptions = marshal(nonNil(a.Transcriptions))
	enc.technical = marshal(a.TechnicalMetadata)
	enc.derivatives = marshal(nonNil(a.Derivatives))
	enc.events = marshal(nonNil(a.PreservationEvents))
	if a.PreservationFile != nil {
		enc.file = marshal(a.PreservationFile)
	}
	if a.PreservationBackup != nil {
		enc.backup = marshal(a.PreservationBackup)
	}
	return enc, err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanAsset(row pgx.Row) (*preservation.Asset, error) {
	var (
		a   preservation.Asset
		enc assetJSON
	)
	if err := row.Scan(
		&a.ID, &a.OriginalFilename, &a.Label, &enc.annotations, &enc.transcriptions,
		&enc.technical, &enc.file, &enc.backup, &enc.derivatives,
		&enc.events, &a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt, &a.LockVersion); err != nil {
		return nil, err
	}

	targets := []struct {
		data []byte
		v    interface{}
	}{
		{enc.annotations, &a.Annotations},
		{enc.transcriptions, &a.Transcriptions},
		{enc.technical, &a.TechnicalMetadata},
		{enc.file, &a.PreservationFile},
		{enc.backup, &a.PreservationBackup},
		{enc.derivatives, &a.Derivatives},
		{enc.events, &a.PreservationEvents},
	}
	for _, t := range targets {
		if len(t.data) == 0 {
			continue
		}
		if err := json.Unmarshal(t.data, t.v); err != nil {
			return nil, fmt.Errorf("decode asset %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func (r *Repository) CreateAsset(ctx context.Context, asset *preservation.Asset) error {
	enc, err := encodeAsset(asset)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO asset (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)`

	_, err = r.db.Exec(ctx, query,
		asset.ID, asset.OriginalFilename, asset.Label, enc.annotations, enc.transcriptions,
		enc.technical, enc.file, enc.backup, enc.derivatives,
		enc.events, asset.CreatedBy, asset.UpdatedBy, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create asset", err)
	}

	asset.LockVersion = 1
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*preservation.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset WHERE id = $1`

	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preservation.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("get asset", err)
	}
	return asset, nil
}

func (r *Repository) GetAssets(ctx context.Context, ids []uuid.UUID) ([]*preservation.Asset, error) {
	if len(ids) == 0 {
		return []*preservation.Asset{}, nil
	}

	params := make([]string, 0, len(ids))
	for _, id := range ids {
		params = append(params, id.String())
	}

	query := `SELECT ` + assetColumns + ` FROM asset WHERE id = ANY($1::uuid[])`
	rows, err := r.db.Query(ctx, query, params)
	if err != nil {
		return nil, r.handlePostgresError("get assets", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*preservation.Asset, len(ids))
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("get assets", err)
		}
		byID[asset.ID] = asset
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("get assets", err)
	}

	assets := make([]*preservation.Asset, 0, len(ids))
	for _, id := range ids {
		asset, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", preservation.ErrAssetNotFound, id)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (r *Repository) UpdateAsset(ctx context.Context, asset *preservation.Asset) error {
	enc, err := encodeAsset(asset)
	if err != nil {
		return err
	}

	query := `
		UPDATE asset SET
			original_filename = $2, label = $3, annotations = $4, transcriptions = $5,
			technical_metadata = $6, preservation_file = $7, preservation_backup = $8,
			derivatives = $9, preservation_events = $10, updated_by = $11,
			updated_at = $12, lock_version = lock_version + 1
		WHERE id = $1 AND lock_version = $13`

	tag, err := r.db.Exec(ctx, query,
		asset.ID, asset.OriginalFilename, asset.Label, enc.annotations, enc.transcriptions,
		enc.technical, enc.file, enc.backup, enc.derivatives, enc.events,
		asset.UpdatedBy, asset.UpdatedAt, asset.LockVersion)
	if err != nil {
		return r.handlePostgresError("update asset", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, "asset", asset.ID, preservation.ErrAssetNotFound)
	}

	asset.LockVersion++
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM asset WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return preservation.ErrAssetNotFound
	}
	return nil
}

// missingOrStale tells a missing row from a lock version mismatch after an
// update touched no rows.
func (r *Repository) missingOrStale(ctx context.Context, table string, id uuid.UUID, notFound error) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return r.handlePostgresError("update "+table, err)
	}
	if !exists {
		return notFound
	}
	return preservation.ErrStaleObject
}

// Item operations

const itemColumns = `id, unique_identifier, human_readable_name, descriptive_metadata,
	structural_metadata, ocr_strategy, asset_ids, thumbnail_asset_id, published,
	first_published_at, last_published_at, published_by, created_by, updated_by,
	created_at, updated_at, lock_version`

func encodeItem(item *preservation.Item) (descriptive, structural []byte, err error) {
	metadata := item.DescriptiveMetadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if descriptive, err = json.Marshal(metadata); err != nil {
		return nil, nil, err
	}
	if structural, err = json.Marshal(item.StructuralMetadata); err != nil {
		return nil, nil, err
	}
	return descriptive, structural, nil
}

func thumbnailParam(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func scanItem(row pgx.Row) (*preservation.Item, error) {
	var (
		item                   preservation.Item
		descriptive, structure []byte
		thumbnail              *uuid.UUID
	)
	if err := row.Scan(
		&item.ID, &item.UniqueIdentifier, &item.HumanReadableName, &descriptive,
		&structure, &item.OCRStrategy, &item.AssetIDs, &thumbnail, &item.Published,
		&item.FirstPublishedAt, &item.LastPublishedAt, &item.PublishedBy, &item.CreatedBy, &item.UpdatedBy,
		&item.CreatedAt, &item.UpdatedAt, &item.LockVersion); err != nil {
		return nil, err
	}
	if thumbnail != nil {
		item.ThumbnailAssetID = *thumbnail
	}
	if err := json.Unmarshal(descriptive, &item.DescriptiveMetadata); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", item.ID, err)
	}
	if err := json.Unmarshal(structure, &item.StructuralMetadata); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", item.ID, err)
	}
	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *preservation.Item) error {
	descriptive, structural, err := encodeItem(item)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO item (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`

	_, err = r.db.Exec(ctx, query,
		item.ID, item.UniqueIdentifier, item.HumanReadableName, descriptive,
		structural, item.OCRStrategy, nonNil(item.AssetIDs), thumbnailParam(item.ThumbnailAssetID), item.Published,
		item.FirstPublishedAt, item.LastPublishedAt, item.PublishedBy, item.CreatedBy, item.UpdatedBy,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create item", err)
	}

	item.LockVersion = 1
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*preservation.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM item WHERE id = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preservation.ErrItemNotFound
		}
		return nil, r.handlePostgresError("get item", err)
	}
	return item, nil
}

func (r *Repository) GetItemByUniqueIdentifier(ctx context.Context, uniqueIdentifier string) (*preservation.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM item WHERE unique_identifier = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, uniqueIdentifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preservation.ErrItemNotFound
		}
		return nil, r.handlePostgresError("get item by unique identifier", err)
	}
	return item, nil
}

func (r *Repository) UpdateItem(ctx context.Context, item *preservation.Item) error {
	descriptive, structural, err := encodeItem(item)
	if err != nil {
		return err
	}

	query := `
		UPDATE item SET
			unique_identifier = $2, human_readable_name = $3, descriptive_metadata = $4,
			structural_metadata = $5, ocr_strategy = $6, asset_ids = $7,
			thumbnail_asset_id = $8, published = $9, first_published_at = $10,
			last_published_at = $11, published_by = $12, updated_by = $13,
			updated_at = $14, lock_version = lock_version + 1
		WHERE id = $1 AND lock_version = $15`

	tag, err := r.db.Exec(ctx, query,
		item.ID, item.UniqueIdentifier, item.HumanReadableName, descriptive,
		structural, item.OCRStrategy, nonNil(item.AssetIDs),
		thumbnailParam(item.ThumbnailAssetID), item.Published, item.FirstPublishedAt,
		item.LastPublishedAt, item.PublishedBy, item.UpdatedBy,
		item.UpdatedAt, item.LockVersion)
	if err != nil {
		return r.handlePostgresError("update item", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, "item", item.ID, preservation.ErrItemNotFound)
	}

	item.LockVersion++
	return nil
}

func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM item WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete item", err)
	}
	if tag.RowsAffected() == 0 {
		return preservation.ErrItemNotFound
	}
	return nil
}
