package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTranscriptConflict indicates an attempt to re-point an established
// media→transcript link at different transcript data.
var ErrTranscriptConflict = errors.New("transcript already linked to media")

// SaveTranscript establishes the durable media→transcript link. The link is
// write-once: saving identical data again is a no-op, but silently
// re-pointing a media id at a different transcript is refused.
func (s *Store) SaveTranscript(ctx context.Context, record *TranscriptRecord) (*TranscriptRecord, error) {
	if record == nil {
		return nil, errors.New("transcript record is nil")
	}
	if record.MediaID == "" {
		return nil, errors.New("transcript record requires a media id")
	}

	existing, err := s.TranscriptByMediaID(ctx, record.MediaID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.WordsJSON == record.WordsJSON && existing.ArchiveLocator == record.ArchiveLocator {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: media %s", ErrTranscriptConflict, record.MediaID)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO transcript_records (media_id, words_json, archive_locator, created_at)
         VALUES (?, ?, ?, ?)`,
		record.MediaID,
		nullableString(record.WordsJSON),
		nullableString(record.ArchiveLocator),
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transcript: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	record.ID = id
	return s.TranscriptByMediaID(ctx, record.MediaID)
}

// TranscriptByMediaID fetches the transcript linked to a media identifier.
func (s *Store) TranscriptByMediaID(ctx context.Context, mediaID string) (*TranscriptRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, media_id, words_json, archive_locator, created_at
         FROM transcript_records WHERE media_id = ?`,
		mediaID,
	)
	record, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcript by media id: %w", err)
	}
	return record, nil
}

func scanTranscript(scanner interface{ Scan(dest ...any) error }) (*TranscriptRecord, error) {
	var (
		id             int64
		mediaID        string
		wordsJSON      sql.NullString
		archiveLocator sql.NullString
		createdRaw     sql.NullString
	)

	if err := scanner.Scan(&id, &mediaID, &wordsJSON, &archiveLocator, &createdRaw); err != nil {
		return nil, err
	}

	record := &TranscriptRecord{
		ID:             id,
		MediaID:        mediaID,
		WordsJSON:      wordsJSON.String,
		ArchiveLocator: archiveLocator.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	return record, nil
}
