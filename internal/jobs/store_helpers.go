package jobs

import (
	"database/sql"
	"errors"
	"time"

	"tubemux/internal/media"
)

const jobColumns = "id, source_url, tier, title, status, progress_stage, progress_percent, progress_message, video_bytes, video_total, audio_bytes, audio_total, output_path, artifact_size, error_kind, error_message, error_hint, created_at, updated_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		sourceURL       string
		tier            string
		title           sql.NullString
		statusStr       string
		progressStage   sql.NullString
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		videoBytes      int64
		videoTotal      int64
		audioBytes      int64
		audioTotal      int64
		outputPath      sql.NullString
		artifactSize    int64
		errorKind       sql.NullString
		errorMessage    sql.NullString
		errorHint       sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		completedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceURL,
		&tier,
		&title,
		&statusStr,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&videoBytes,
		&videoTotal,
		&audioBytes,
		&audioTotal,
		&outputPath,
		&artifactSize,
		&errorKind,
		&errorMessage,
		&errorHint,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		SourceURL:       sourceURL,
		Tier:            media.Tier(tier),
		Title:           title.String,
		Status:          Status(statusStr),
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		VideoBytes:      videoBytes,
		VideoTotal:      videoTotal,
		AudioBytes:      audioBytes,
		AudioTotal:      audioTotal,
		OutputPath:      outputPath.String,
		ArtifactSize:    artifactSize,
		ErrorKind:       errorKind.String,
		ErrorMessage:    errorMessage.String,
		ErrorHint:       errorHint.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
