package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"kycgate/internal/kyc/models"
	"kycgate/pkg/platform/sentinel"
)

// PostgresStore persists ledger rows in PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStore constructs a PostgreSQL-backed ledger.
func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PostgresStore{db: db, timeout: timeout}
}

// The WHERE clause turns a repeat of the stored outcome into a no-op so
// RowsAffected tells callers whether anything changed. user_id and step are
// fixed at insert.
const upsertQuery = `
	INSERT INTO kyc_verifications (task_id, user_id, step, document_type, status, result_data, provider, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (task_id) DO UPDATE SET
		status = EXCLUDED.status,
		result_data = EXCLUDED.result_data,
		provider = EXCLUDED.provider,
		updated_at = EXCLUDED.updated_at
	WHERE (kyc_verifications.status, kyc_verifications.result_data)
		IS DISTINCT FROM (EXCLUDED.status, EXCLUDED.result_data)
`

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result any
	if c := compact(rec.ResultData); c != nil {
		result = string(c)
	}
	res, err := s.db.ExecContext(ctx, upsertQuery,
		rec.TaskID,
		rec.UserID,
		string(rec.Step),
		string(rec.DocumentType),
		string(rec.Status),
		result,
		rec.Provider,
		rec.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert verification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert verification rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) FindUserIDByTaskID(ctx context.Context, taskID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM kyc_verifications WHERE task_id = $1`, taskID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("find user by task: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) FindByTaskID(ctx context.Context, taskID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, user_id, step, document_type, status, result_data, provider, updated_at
		FROM kyc_verifications WHERE task_id = $1`, taskID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return rec, nil
}

// LatestByUser returns the newest row per requested document type.
func (s *PostgresStore) LatestByUser(ctx context.Context, userID string, docs []models.DocumentType) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = string(d)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (document_type)
			task_id, user_id, step, document_type, status, result_data, provider, updated_at
		FROM kyc_verifications
		WHERE user_id = $1 AND document_type = ANY($2)
		ORDER BY document_type, updated_at DESC`, userID, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list latest verifications: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// HistoryByUser returns the user's rows newest first. An empty doc selects
// every document type.
func (s *PostgresStore) HistoryByUser(ctx context.Context, userID string, doc models.DocumentType, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, user_id, step, document_type, status, result_data, provider, updated_at
		FROM kyc_verifications
		WHERE user_id = $1 AND ($2 = '' OR document_type = $2)
		ORDER BY updated_at DESC, task_id
		LIMIT $3`, userID, string(doc), HistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list verification history: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func collect(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var (
		rec    Record
		step   string
		doc    string
		status string
		result sql.NullString
	)
	if err := row.Scan(&rec.TaskID, &rec.UserID, &step, &doc, &status, &result, &rec.Provider, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Step = models.Step(step)
	rec.DocumentType = models.DocumentType(doc)
	rec.Status = models.Status(status)
	if result.Valid {
		rec.ResultData = []byte(result.String)
	}
	return &rec, nil
}
