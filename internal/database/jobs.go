package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fieldops/internal/models"
)

const jobColumns = `id, no, date, category, requested_by, ticket_id, location_id, coordinates,
                    detail, appointment_time, engineer_1, engineer_2, engineer_3, accepted,
                    status, remarks, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job  models.Job
		date sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.No,
		&date,
		&job.Category,
		&job.RequestedBy,
		&job.TicketID,
		&job.LocationID,
		&job.Coordinates,
		&job.Detail,
		&job.AppointmentTime,
		&job.Engineer1,
		&job.Engineer2,
		&job.Engineer3,
		&job.Accepted,
		&job.Status,
		&job.Remarks,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if date.Valid && date.String != "" {
		parsed, err := models.ParseDate(date.String)
		if err != nil {
			return nil, fmt.Errorf("job %d has invalid date %q: %w", job.ID, date.String, err)
		}
		job.Date = parsed
	}
	return &job, nil
}

func dateArg(job *models.Job) any {
	if !job.HasDate() {
		return nil
	}
	return job.DateKey()
}

// CreateJob inserts a job. A blank display number is assigned the next free
// number within the job's date.
func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if job.No == "" {
		next, err := nextDisplayNumber(ctx, tx, job)
		if err != nil {
			return err
		}
		job.No = fmt.Sprintf("%d", next)
	}

	query := `INSERT INTO jobs (
				no, date, category, requested_by, ticket_id, location_id, coordinates,
				detail, appointment_time, engineer_1, engineer_2, engineer_3, accepted,
				status, remarks, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := tx.ExecContext(ctx, query,
		job.No,
		dateArg(job),
		job.Category,
		job.RequestedBy,
		job.TicketID,
		job.LocationID,
		job.Coordinates,
		job.Detail,
		job.AppointmentTime,
		job.Engineer1,
		job.Engineer2,
		job.Engineer3,
		job.Accepted,
		job.Status,
		job.Remarks,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}

	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func nextDisplayNumber(ctx context.Context, q queryer, job *models.Job) (int, error) {
	query := `SELECT no FROM jobs WHERE date IS NULL`
	args := []any{}
	if job.HasDate() {
		query = `SELECT no FROM jobs WHERE date = ?`
		args = append(args, job.DateKey())
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to read display numbers: %w", err)
	}
	defer rows.Close()

	highest := 0
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return 0, fmt.Errorf("failed to scan display number: %w", err)
		}
		if n := models.DisplayNumber(no); n > highest {
			highest = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return highest + 1, nil
}

// NextDisplayNumber returns the number a new job on the given date would receive.
func (db *DB) NextDisplayNumber(ctx context.Context, date *time.Time) (int, error) {
	return nextDisplayNumber(ctx, db.DB, &models.Job{Date: date})
}

func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJob overwrites a job. A blank display number keeps the stored one.
func (db *DB) UpdateJob(ctx context.Context, job *models.Job) error {
	query := `UPDATE jobs SET
				no = COALESCE(NULLIF(TRIM(?), ''), no), date = ?, category = ?, requested_by = ?, ticket_id = ?,
				location_id = ?, coordinates = ?, detail = ?, appointment_time = ?,
				engineer_1 = ?, engineer_2 = ?, engineer_3 = ?, accepted = ?,
				status = ?, remarks = ?, updated_at = ?
			  WHERE id = ?`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		job.No,
		dateArg(job),
		job.Category,
		job.RequestedBy,
		job.TicketID,
		job.LocationID,
		job.Coordinates,
		job.Detail,
		job.AppointmentTime,
		job.Engineer1,
		job.Engineer2,
		job.Engineer3,
		job.Accepted,
		job.Status,
		job.Remarks,
		now,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	if strings.TrimSpace(job.No) == "" {
		if err := db.QueryRowContext(ctx, `SELECT no FROM jobs WHERE id = ?`, job.ID).Scan(&job.No); err != nil {
			return fmt.Errorf("failed to reload display number: %w", err)
		}
	}
	job.UpdatedAt = now
	return nil
}

func (db *DB) DeleteJob(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs in a date range (inclusive); zero bounds are open.
func (db *DB) ListJobs(ctx context.Context, from, to time.Time) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []any
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.Format(models.DateKeyLayout))
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.Format(models.DateKeyLayout))
	}
	query += ` ORDER BY date IS NULL, date DESC, created_at ASC, id ASC`

	jobs, err := db.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	SortForSheet(jobs)
	return jobs, nil
}

// ListJobsForSheet returns every job in sheet order: date descending with
// undated jobs last, then numeric display number, creation time and id ascending.
func (db *DB) ListJobsForSheet(ctx context.Context) ([]*models.Job, error) {
	return db.ListJobs(ctx, time.Time{}, time.Time{})
}

func (db *DB) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// SortForSheet orders jobs the way the spreadsheet expects them.
// The display number is compared numerically, never as text.
func SortForSheet(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.HasDate() != b.HasDate() {
			return a.HasDate()
		}
		if a.HasDate() {
			if ak, bk := a.DateKey(), b.DateKey(); ak != bk {
				return ak > bk
			}
		}
		if an, bn := models.DisplayNumber(a.No), models.DisplayNumber(b.No); an != bn {
			return an < bn
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
