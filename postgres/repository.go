package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gosom/gmaps-extractor/models"
)

const uniqueViolation = "23505"

type repository struct {
	db *sql.DB
}

// NewRepository creates a PostgreSQL implementation of models.JobRepository.
// The schema is expected to be in place (see Migrate).
func NewRepository(db *sql.DB) (models.JobRepository, error) {
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &repository{db: db}, nil
}

func (repo *repository) Get(ctx context.Context, id string) (models.Job, error) {
	const q = `SELECT id, user_id, status, data, logs FROM jobs WHERE id = $1`

	job, err := rowToJob(repo.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, models.ErrNotFound
	}

	return job, err
}

func (repo *repository) Create(ctx context.Context, job *models.Job) error {
	item, err := jobToRow(job)
	if err != nil {
		return err
	}

	const q = `INSERT INTO jobs (id, user_id, status, data, logs, created_at, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err = repo.db.ExecContext(ctx, q, item.ID, item.UserID, item.Status, item.Data, item.Logs, item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrAlreadyExists
		}

		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (repo *repository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM jobs WHERE id = $1`

	result, err := repo.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (repo *repository) Select(ctx context.Context, params models.SelectParams) ([]models.Job, error) {
	q := `SELECT id, user_id, status, data, logs FROM jobs`

	var (
		args       []any
		conditions []string
	)

	if params.Status != "" {
		args = append(args, string(params.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if params.UserID != "" {
		args = append(args, params.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}

	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}

	q += " ORDER BY created_at DESC, id DESC"

	if params.Limit > 0 {
		args = append(args, params.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := repo.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}

	defer rows.Close()

	var ans []models.Job

	for rows.Next() {
		job, err := rowToJob(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func (repo *repository) UpdateIf(ctx context.Context, job *models.Job, expected models.Status) (bool, error) {
	item, err := jobToRow(job)
	if err != nil {
		return false, err
	}

	const q = `UPDATE jobs SET status = $1, data = $2, updated_at = NOW() WHERE id = $3 AND status = $4`

	result, err := repo.db.ExecContext(ctx, q, item.Status, item.Data, item.ID, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (repo *repository) AppendLog(ctx context.Context, id string, expected models.Status, line string) (bool, error) {
	const q = `UPDATE jobs SET logs = logs || jsonb_build_array($1::text), updated_at = NOW()
               WHERE id = $2 AND status = $3`

	result, err := repo.db.ExecContext(ctx, q, line, id, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to append log: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func rowToJob(row scannable) (models.Job, error) {
	var (
		j   job
		ans models.Job
	)

	if err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Data, &j.Logs); err != nil {
		return models.Job{}, err
	}

	if err := json.Unmarshal(j.Data, &ans); err != nil {
		return models.Job{}, err
	}

	if err := json.Unmarshal(j.Logs, &ans.Logs); err != nil {
		return models.Job{}, err
	}

	ans.ID = j.ID
	ans.UserID = j.UserID
	ans.Status = models.Status(j.Status)

	return ans, nil
}

func jobToRow(item *models.Job) (job, error) {
	logs := item.Logs
	if logs == nil {
		logs = []string{}
	}

	cp := *item
	cp.Logs = nil

	data, err := json.Marshal(&cp)
	if err != nil {
		return job{}, err
	}

	logsData, err := json.Marshal(logs)
	if err != nil {
		return job{}, err
	}

	return job{
		ID:        item.ID,
		UserID:    item.UserID,
		Status:    string(item.Status),
		Data:      data,
		Logs:      logsData,
		CreatedAt: item.CreatedAt.UTC(),
	}, nil
}

type job struct {
	ID        string
	UserID    string
	Status    string
	Data      []byte
	Logs      []byte
	CreatedAt time.Time
}
