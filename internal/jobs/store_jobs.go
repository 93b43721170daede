package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Create inserts a new job. CreatedAt and UpdatedAt default to now.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if err := job.validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.exec(
		ctx,
		`INSERT INTO jobs (
            id, source_url, tier, title, status, progress_stage, progress_percent, progress_message,
            video_bytes, video_total, audio_bytes, audio_total, output_path, artifact_size,
            error_kind, error_message, error_hint, created_at, updated_at, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.SourceURL,
		string(job.Tier),
		nullableString(job.Title),
		string(job.Status),
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.VideoBytes,
		job.VideoTotal,
		job.AudioBytes,
		job.AudioTotal,
		nullableString(job.OutputPath),
		job.ArtifactSize,
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorHint),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
		nullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by identifier. It returns nil, nil when the id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(orBackground(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists every mutable field of job. Finished rows are never
// rewritten: the update returns ErrTerminal when the stored row is already
// ready, failed or cancelled, and ErrNotFound when it does not exist.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if err := job.validate(); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	if job.Status.IsTerminal() && job.CompletedAt == nil {
		completed := job.UpdatedAt
		job.CompletedAt = &completed
	}

	args := []any{
		nullableString(job.Title),
		string(job.Status),
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.VideoBytes,
		job.VideoTotal,
		job.AudioBytes,
		job.AudioTotal,
		nullableString(job.OutputPath),
		job.ArtifactSize,
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorHint),
		formatTime(job.UpdatedAt),
		nullableTime(job.CompletedAt),
		job.ID,
	}
	args = append(args, statusArgs(terminalStatuses)...)
	res, err := s.exec(
		ctx,
		`UPDATE jobs
         SET title = ?, status = ?, progress_stage = ?, progress_percent = ?, progress_message = ?,
             video_bytes = ?, video_total = ?, audio_bytes = ?, audio_total = ?,
             output_path = ?, artifact_size = ?, error_kind = ?, error_message = ?, error_hint = ?,
             updated_at = ?, completed_at = ?
         WHERE id = ? AND status NOT IN (`+makePlaceholders(len(terminalStatuses))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	existing, err := s.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, job.ID)
	}
	return fmt.Errorf("%w: %s is %s", ErrTerminal, job.ID, existing.Status)
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = orBackground(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		query := baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, statusArgs(statuses)...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClearFinished removes every terminal job and returns the count removed.
func (s *Store) ClearFinished(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM jobs WHERE status IN (`+makePlaceholders(len(terminalStatuses))+`)`,
		statusArgs(terminalStatuses)...,
	)
	if err != nil {
		return 0, fmt.Errorf("clear finished jobs: %w", err)
	}
	return res.RowsAffected()
}
