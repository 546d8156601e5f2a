package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/models"
)

var _ models.UsageLimiter = (*QuotaService)(nil)

// QuotaService limits the number of jobs a user may submit per calendar
// month. Counters are kept in the user_usage table and reset lazily on the
// first write of a new month.
type QuotaService struct {
	db    *sql.DB
	limit int
	log   *zap.Logger
	now   func() time.Time
}

func NewQuotaService(db *sql.DB, monthlyLimit int, log *zap.Logger) *QuotaService {
	if log == nil {
		log = zap.NewNop()
	}

	return &QuotaService{db: db, limit: monthlyLimit, log: log, now: time.Now}
}

func (q *QuotaService) HasQuota(ctx context.Context, userID string) (bool, error) {
	usage, err := q.Usage(ctx, userID)
	if err != nil {
		return false, err
	}

	return usage.JobCount < usage.Limit, nil
}

// Usage returns the current month's consumption for userID.
func (q *QuotaService) Usage(ctx context.Context, userID string) (models.UserUsage, error) {
	const stmt = `SELECT current_month_jobs, last_job_date, last_reset_date FROM user_usage WHERE user_id = $1`

	var (
		count     int
		lastJob   sql.NullTime
		lastReset sql.NullTime
	)

	usage := models.UserUsage{UserID: userID, Limit: q.limit}

	err := q.db.QueryRowContext(ctx, stmt, userID).Scan(&count, &lastJob, &lastReset)
	if errors.Is(err, sql.ErrNoRows) {
		return usage, nil
	}

	if err != nil {
		return usage, err
	}

	if lastJob.Valid {
		usage.LastJobDate = lastJob.Time
	}

	// counters from a previous month no longer count
	if lastReset.Valid && !lastReset.Time.Before(q.monthStart()) {
		usage.JobCount = count
	}

	return usage, nil
}

func (q *QuotaService) CommitUsage(ctx context.Context, userID string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := q.ensureRow(ctx, tx, userID); err != nil {
		return err
	}

	if err := q.resetIfNewMonth(ctx, tx, userID); err != nil {
		return err
	}

	const stmt = `
		UPDATE user_usage
		SET job_count = job_count + 1,
			current_month_jobs = current_month_jobs + 1,
			last_job_date = $1,
			updated_at = $1
		WHERE user_id = $2`

	if _, err := tx.ExecContext(ctx, stmt, q.now().UTC(), userID); err != nil {
		q.log.Error("failed to commit usage", zap.String("user_id", userID), zap.Error(err))

		return err
	}

	return tx.Commit()
}

func (q *QuotaService) Refund(ctx context.Context, userID string) error {
	const stmt = `
		UPDATE user_usage
		SET current_month_jobs = GREATEST(current_month_jobs - 1, 0),
			updated_at = $1
		WHERE user_id = $2`

	_, err := q.db.ExecContext(ctx, stmt, q.now().UTC(), userID)
	if err != nil {
		q.log.Error("failed to refund usage", zap.String("user_id", userID), zap.Error(err))
	}

	return err
}

func (q *QuotaService) ensureRow(ctx context.Context, tx *sql.Tx, userID string) error {
	const stmt = `INSERT INTO user_usage (user_id, last_reset_date) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, stmt, userID, q.monthStart())

	return err
}

func (q *QuotaService) resetIfNewMonth(ctx context.Context, tx *sql.Tx, userID string) error {
	month := q.monthStart()

	const stmt = `
		UPDATE user_usage
		SET current_month_jobs = 0,
			last_reset_date = $1
		WHERE user_id = $2 AND (last_reset_date IS NULL OR last_reset_date < $1)`

	_, err := tx.ExecContext(ctx, stmt, month, userID)

	return err
}

func (q *QuotaService) monthStart() time.Time {
	now := q.now().UTC()

	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
