package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/picflow/pkg/models"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username) VALUES ($1) RETURNING id, username, created_at`, username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Pictures ---

const pictureColumns = `id, user_id, name, description, original_path, thumbnail_path, storage_backend,
	content_type, file_size, exif, taken_at, embedding, processing_status, processing_progress,
	processing_error, created_at, updated_at`

func scanPicture(row pgx.Row) (*models.Picture, error) {
	var (
		p         models.Picture
		exifRaw   []byte
		embedding *pgvector.Vector
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.OriginalPath, &p.ThumbnailPath,
		&p.StorageBackend, &p.ContentType, &p.FileSize, &exifRaw, &p.TakenAt, &embedding,
		&p.ProcessingStatus, &p.ProcessingProgress, &p.ProcessingError, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(exifRaw) > 0 {
		var info models.ExifInfo
		if err := json.Unmarshal(exifRaw, &info); err != nil {
			return nil, fmt.Errorf("decode exif: %w", err)
		}
		p.Exif = &info
	}
	if embedding != nil {
		p.Embedding = embedding.Slice()
	}
	return &p, nil
}

// CreatePicture inserts p and fills in its ID and timestamps. An empty
// status is stored as Pending.
func (s *PostgresStore) CreatePicture(ctx context.Context, p *models.Picture) error {
	if p.ProcessingStatus == "" {
		p.ProcessingStatus = models.StatusPending
	}
	if p.StorageBackend == "" {
		p.StorageBackend = "local"
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO pictures (user_id, name, description, original_path, storage_backend, content_type,
		   file_size, processing_status, processing_progress)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		p.UserID, p.Name, p.Description, p.OriginalPath, p.StorageBackend, p.ContentType,
		p.FileSize, p.ProcessingStatus, p.ProcessingProgress,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create picture: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPicture(ctx context.Context, id int64) (*models.Picture, error) {
	p, err := scanPicture(s.pool.QueryRow(ctx,
		`SELECT `+pictureColumns+` FROM pictures WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get picture: %w", err)
	}
	return p, nil
}

// ListPicturesByStatus returns pictures in any of the given statuses, oldest first.
func (s *PostgresStore) ListPicturesByStatus(ctx context.Context, statuses ...models.ProcessingStatus) ([]*models.Picture, error) {
	if len(statuses) == 0 {
		return []*models.Picture{}, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pictureColumns+` FROM pictures WHERE processing_status = ANY($1) ORDER BY id`, names)
	if err != nil {
		return nil, fmt.Errorf("list pictures by status: %w", err)
	}
	defer rows.Close()

	pictures := []*models.Picture{}
	for rows.Next() {
		p, err := scanPicture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan picture: %w", err)
		}
		pictures = append(pictures, p)
	}
	return pictures, rows.Err()
}

// UpdatePicture applies the given field updates in one statement.
func (s *PostgresStore) UpdatePicture(ctx context.Context, id int64, opts ...PictureUpdateOption) error {
	params := &pictureUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if params.empty() {
		return nil
	}

	query := `UPDATE pictures SET updated_at = $2`
	args := []any{id, time.Now().UTC()}
	argIdx := 3

	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = $%d", column, argIdx)
		args = append(args, value)
		argIdx++
	}

	if params.Status != nil {
		set("processing_status", string(*params.Status))
	}
	if params.Progress != nil {
		set("processing_progress", *params.Progress)
	}
	if params.ErrorMessage != nil {
		set("processing_error", *params.ErrorMessage)
	} else if params.Status != nil && *params.Status != models.StatusFailed {
		query += ", processing_error = NULL"
	}
	if params.ThumbnailPath != nil {
		set("thumbnail_path", *params.ThumbnailPath)
	}
	if params.Exif != nil {
		raw, err := json.Marshal(params.Exif)
		if err != nil {
			return fmt.Errorf("encode exif: %w", err)
		}
		set("exif", raw)
	}
	if params.TakenAt != nil {
		set("taken_at", params.TakenAt.UTC())
	} else if params.ClearTakenAt {
		query += ", taken_at = NULL"
	}
	if params.Name != nil {
		set("name", *params.Name)
	}
	if params.Description != nil {
		set("description", *params.Description)
	}
	if params.Embedding != nil {
		set("embedding", pgvector.NewVector(params.Embedding))
	}

	query += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update picture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tags ---

func (s *PostgresStore) ListTagNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tag names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan tag name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// FindTagByName matches case-insensitively.
func (s *PostgresStore) FindTagByName(ctx context.Context, name string) (*models.Tag, error) {
	var t models.Tag
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM tags WHERE lower(name) = lower($1)`,
		strings.TrimSpace(name),
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tag by name: %w", err)
	}
	return &t, nil
}

// CreateTag returns ErrDuplicateKey if a tag with the same name in any
// letter case already exists.
func (s *PostgresStore) CreateTag(ctx context.Context, name, description string) (*models.Tag, error) {
	var t models.Tag
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tags (name, description) VALUES ($1, $2) RETURNING id, name, description, created_at`,
		strings.TrimSpace(name), description,
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create tag: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) AttachTagToPicture(ctx context.Context, pictureID, tagID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO picture_tags (picture_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		pictureID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag to picture: %w", err)
	}
	return nil
}

func (s *PostgresStore) AttachTagToUser(ctx context.Context, userID, tagID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_tags (user_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag to user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPictureTags(ctx context.Context, pictureID int64) ([]*models.Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.name, t.description, t.created_at
		 FROM tags t JOIN picture_tags pt ON pt.tag_id = t.id
		 WHERE pt.picture_id = $1 ORDER BY t.name`, pictureID)
	if err != nil {
		return nil, fmt.Errorf("list picture tags: %w", err)
	}
	defer rows.Close()

	tags := []*models.Tag{}
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
