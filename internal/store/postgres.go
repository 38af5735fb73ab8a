package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/stager/pkg/models"
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

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
		&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
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
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, input_image_ref, room_type, style, items, resolution, status,
	result_image_ref, failure_reason, cost, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.InputImageRef, &j.RoomType, &j.Style, &j.Items, &j.Resolution,
		&j.Status, &j.ResultImageRef, &j.FailureReason, &j.Cost, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if j.Items == nil {
		j.Items = []string{}
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	items := job.Items
	if items == nil {
		items = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, input_image_ref, room_type, style, items, resolution, status, cost, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.InputImageRef, string(job.RoomType), string(job.Style), items,
		string(job.Resolution), string(job.Status), job.Cost, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}

	if filter.Status != "" {
		query += " WHERE status = $1"
		args = append(args, string(filter.Status))
	}
	// seq breaks ties between jobs created within the same microsecond
	query += " ORDER BY created_at DESC, seq DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// TransitionJob applies the status change with a conditional UPDATE so the
// transition check and the write happen in one statement.
func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, to models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params, err := applyOptions(to, opts)
	if err != nil {
		return nil, err
	}

	sources := sourcesFor(to)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no transition leads to %s", ErrInvalidTransition, to)
	}

	query := `UPDATE jobs SET status = $2, updated_at = NOW()`
	args := []any{id, string(to), sources}
	argIdx := 4

	if to == models.JobStatusProcessing {
		query += ", started_at = NOW()"
	}
	if to.Terminal() {
		query += ", completed_at = NOW()"
	}
	if params.ResultImageRef != nil {
		query += fmt.Sprintf(", result_image_ref = $%d", argIdx)
		args = append(args, *params.ResultImageRef)
		argIdx++
	}
	if params.FailureReason != nil {
		query += fmt.Sprintf(", failure_reason = $%d", argIdx)
		args = append(args, *params.FailureReason)
		argIdx++
	}
	query += " WHERE id = $1 AND status = ANY($3) RETURNING " + jobColumns

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition job: %w", err)
	}

	// Nothing updated: either the job is missing or its status forbids the move.
	var current models.JobStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

// --- Credits ---

func (s *PostgresStore) InitCredits(ctx context.Context, current, total int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credits (id, current, total, updated_at) VALUES (1, LEAST($1::int, $2::int), $2, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   total = EXCLUDED.total,
		   current = LEAST(credits.current, EXCLUDED.total),
		   updated_at = NOW()`,
		current, total)
	if err != nil {
		return fmt.Errorf("init credits: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCredits(ctx context.Context) (int, int, error) {
	var current, total int
	err := s.pool.QueryRow(ctx, `SELECT current, total FROM credits WHERE id = 1`).Scan(&current, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("get credits: %w", err)
	}
	return current, total, nil
}

func (s *PostgresStore) DebitCredits(ctx context.Context, amount int) (int, error) {
	var current int
	err := s.pool.QueryRow(ctx,
		`UPDATE credits SET current = current - $1, updated_at = NOW()
		 WHERE id = 1 AND current >= $1 RETURNING current`, amount).Scan(&current)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("debit credits: %w", err)
	}

	current, _, err = s.GetCredits(ctx)
	if err != nil {
		return 0, err
	}
	return current, ErrInsufficientBalance
}

func (s *PostgresStore) CreditCredits(ctx context.Context, amount int) (int, error) {
	var current int
	err := s.pool.QueryRow(ctx,
		`UPDATE credits SET current = LEAST(total, current + $1), updated_at = NOW()
		 WHERE id = 1 RETURNING current`, amount).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit credits: %w", err)
	}
	return current, nil
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
