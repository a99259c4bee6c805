package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, source, mode, slide_source, principal, status, content_fp, media_path, media_duration_ms, has_transcript, has_slides, slides_truncated, segments_json, degraded_json, final_document, error_message, pending_reason, blocked_status, progress_stage, progress_percent, progress_message, created_at, updated_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               int64
		source           string
		mode             sql.NullString
		slideSource      sql.NullString
		principal        sql.NullString
		statusStr        string
		contentFP        sql.NullString
		mediaPath        sql.NullString
		mediaDurationMS  sql.NullInt64
		hasTranscript    sql.NullInt64
		hasSlides        sql.NullInt64
		slidesTruncated  sql.NullInt64
		segmentsJSON     sql.NullString
		degradedJSON     sql.NullString
		finalDocument    sql.NullString
		errorMessage     sql.NullString
		pendingReason    sql.NullString
		blockedStatus    sql.NullString
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&source,
		&mode,
		&slideSource,
		&principal,
		&statusStr,
		&contentFP,
		&mediaPath,
		&mediaDurationMS,
		&hasTranscript,
		&hasSlides,
		&slidesTruncated,
		&segmentsJSON,
		&degradedJSON,
		&finalDocument,
		&errorMessage,
		&pendingReason,
		&blockedStatus,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Source:          source,
		Mode:            mode.String,
		SlideSource:     slideSource.String,
		Principal:       principal.String,
		Status:          Status(statusStr),
		ContentFP:       contentFP.String,
		MediaPath:       mediaPath.String,
		SegmentsJSON:    segmentsJSON.String,
		DegradedJSON:    degradedJSON.String,
		FinalDocument:   finalDocument.String,
		ErrorMessage:    errorMessage.String,
		PendingReason:   pendingReason.String,
		BlockedStatus:   Status(blockedStatus.String),
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
	}
	if mediaDurationMS.Valid {
		job.MediaDuration = time.Duration(mediaDurationMS.Int64) * time.Millisecond
	}
	job.HasTranscript = hasTranscript.Valid && hasTranscript.Int64 != 0
	job.HasSlides = hasSlides.Valid && hasSlides.Int64 != 0
	job.SlidesTrunc = slidesTruncated.Valid && slidesTruncated.Int64 != 0

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
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

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
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
