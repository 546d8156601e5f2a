package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// sqlite driver
	_ "modernc.org/sqlite"

	"github.com/gosom/gmaps-extractor/models"
)

type repo struct {
	db *sql.DB
}

// New opens (or creates) the database at path and returns a job repository
// backed by it.
func New(path string) (models.JobRepository, error) {
	db, err := initDatabase(path)
	if err != nil {
		return nil, err
	}

	return &repo{db: db}, nil
}

// Close releases the underlying database handle.
func (repo *repo) Close() error {
	return repo.db.Close()
}

func (repo *repo) Get(ctx context.Context, id string) (models.Job, error) {
	const q = `SELECT id, user_id, status, data, logs, created_at FROM jobs WHERE id = ?`

	row := repo.db.QueryRowContext(ctx, q, id)

	job, err := rowToJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, models.ErrNotFound
	}

	return job, err
}

func (repo *repo) Create(ctx context.Context, job *models.Job) error {
	item, err := jobToRow(job)
	if err != nil {
		return err
	}

	const q = `INSERT INTO jobs (id, user_id, status, data, logs, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = repo.db.ExecContext(ctx, q,
		item.ID, item.UserID, item.Status, item.Data, item.Logs, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		var existing int

		const exists = `SELECT 1 FROM jobs WHERE id = ?`
		if repo.db.QueryRowContext(ctx, exists, item.ID).Scan(&existing) == nil {
			return models.ErrAlreadyExists
		}

		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (repo *repo) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM jobs WHERE id = ?`

	res, err := repo.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (repo *repo) Select(ctx context.Context, params models.SelectParams) ([]models.Job, error) {
	q := `SELECT id, user_id, status, data, logs, created_at FROM jobs WHERE 1 = 1`

	var args []any

	if params.UserID != "" {
		q += ` AND user_id = ?`

		args = append(args, params.UserID)
	}

	if params.Status != "" {
		q += ` AND status = ?`

		args = append(args, params.Status)
	}

	q += " ORDER BY created_at DESC, rowid DESC"

	if params.Limit > 0 {
		q += " LIMIT ?"

		args = append(args, params.Limit)
	}

	rows, err := repo.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
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

// UpdateIf never touches the logs column; log lines only go through AppendLog.
func (repo *repo) UpdateIf(ctx context.Context, job *models.Job, expected models.Status) (bool, error) {
	item, err := jobToRow(job)
	if err != nil {
		return false, err
	}

	const q = `UPDATE jobs SET status = ?, data = ?, updated_at = ? WHERE id = ? AND status = ?`

	res, err := repo.db.ExecContext(ctx, q, item.Status, item.Data, item.UpdatedAt, item.ID, string(expected))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (repo *repo) AppendLog(ctx context.Context, id string, expected models.Status, line string) (bool, error) {
	const q = `UPDATE jobs SET logs = json_insert(logs, '$[#]', ?), updated_at = ? WHERE id = ? AND status = ?`

	res, err := repo.db.ExecContext(ctx, q, line, time.Now().UTC().Unix(), id, string(expected))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func rowToJob(row scannable) (models.Job, error) {
	var j job

	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Data, &j.Logs, &j.CreatedAt)
	if err != nil {
		return models.Job{}, err
	}

	var ans models.Job

	if err := json.Unmarshal([]byte(j.Data), &ans); err != nil {
		return models.Job{}, err
	}

	if err := json.Unmarshal([]byte(j.Logs), &ans.Logs); err != nil {
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

	// logs live in their own column
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
		Data:      string(data),
		Logs:      string(logsData),
		CreatedAt: item.CreatedAt.UTC().Unix(),
		UpdatedAt: time.Now().UTC().Unix(),
	}, nil
}

type job struct {
	ID        string
	UserID    string
	Status    string
	Data      string
	Logs      string
	CreatedAt int64
	UpdatedAt int64
}

func initDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 1000",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, err
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			logs TEXT NOT NULL DEFAULT '[]',
			created_at INT NOT NULL,
			updated_at INT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at);
	`)

	return err
}
