package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddMediaReference attaches a media pointer to a job.
func (s *Store) AddMediaReference(ctx context.Context, ref *MediaReference) (*MediaReference, error) {
	if ref == nil {
		return nil, errors.New("media reference is nil")
	}
	if ref.MediaID == "" {
		return nil, errors.New("media reference requires a media id")
	}
	segment := ref.SegmentType
	if segment == "" {
		segment = SegmentContent
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO media_references (
            job_id, media_id, filename, cloud_locator, external_id, local_path,
            segment_type, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.JobID,
		ref.MediaID,
		ref.Filename,
		nullableString(ref.CloudLocator),
		nullableString(ref.ExternalID),
		nullableString(ref.LocalPath),
		segment,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert media reference: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.MediaByID(ctx, id)
}

// MediaByID fetches a media reference by row id.
func (s *Store) MediaByID(ctx context.Context, id int64) (*MediaReference, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_references WHERE id = ?`, id)
	ref, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get media reference: %w", err)
	}
	return ref, nil
}

// MediaForJob returns a job's media references in insertion order.
func (s *Store) MediaForJob(ctx context.Context, jobID int64) ([]*MediaReference, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+mediaColumns+` FROM media_references WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("media for job: %w", err)
	}
	defer rows.Close()

	var refs []*MediaReference
	for rows.Next() {
		ref, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// MediaByFilename returns the newest media reference with an exact filename match.
func (s *Store) MediaByFilename(ctx context.Context, filename string) (*MediaReference, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+mediaColumns+` FROM media_references WHERE filename = ? ORDER BY id DESC LIMIT 1`,
		filename,
	)
	ref, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media by filename: %w", err)
	}
	return ref, nil
}

// MediaByFilenameSuffix returns the newest media reference whose filename
// ends with the given basename, regardless of scheme or bucket prefix.
func (s *Store) MediaByFilenameSuffix(ctx context.Context, base string) (*MediaReference, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+mediaColumns+` FROM media_references
         WHERE filename = ? OR filename LIKE '%/' || ?
         ORDER BY id DESC LIMIT 1`,
		base,
		base,
	)
	ref, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media by filename suffix: %w", err)
	}
	return ref, nil
}

// MediaByFilenameFold is the case-insensitive variant of the filename
// lookups, used by the transcript resolver's normalized-fallback strategy.
func (s *Store) MediaByFilenameFold(ctx context.Context, filename string) (*MediaReference, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+mediaColumns+` FROM media_references
         WHERE filename = ? COLLATE NOCASE OR filename LIKE '%/' || ?
         ORDER BY id DESC LIMIT 1`,
		filename,
		filename,
	)
	ref, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media by filename fold: %w", err)
	}
	return ref, nil
}

// MediaByMediaID returns the newest media reference carrying the identifier.
func (s *Store) MediaByMediaID(ctx context.Context, mediaID string) (*MediaReference, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+mediaColumns+` FROM media_references WHERE media_id = ? ORDER BY id DESC LIMIT 1`,
		mediaID,
	)
	ref, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media by media id: %w", err)
	}
	return ref, nil
}

// SetMediaLocalPath records the ephemeral cache path for a media reference.
func (s *Store) SetMediaLocalPath(ctx context.Context, id int64, localPath string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE media_references SET local_path = ? WHERE id = ?`,
		nullableString(localPath),
		id,
	); err != nil {
		return fmt.Errorf("set media local path: %w", err)
	}
	return nil
}

// LocalPathsForActiveJobs returns the cache paths referenced by jobs in
// non-terminal states. Cache cleanup must leave these alone: an errored job
// retried later still needs its inputs.
func (s *Store) LocalPathsForActiveJobs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT m.local_path FROM media_references m
         JOIN jobs j ON j.id = m.job_id
         WHERE m.local_path IS NOT NULL AND j.status IN (?, ?, ?)`,
		StatusPending,
		StatusProcessing,
		StatusError,
	)
	if err != nil {
		return nil, fmt.Errorf("local paths for active jobs: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path sql.NullString
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if path.Valid && path.String != "" {
			paths[path.String] = struct{}{}
		}
	}
	return paths, rows.Err()
}

const mediaColumns = "id, job_id, media_id, filename, cloud_locator, external_id, local_path, segment_type, created_at"

func scanMedia(scanner interface{ Scan(dest ...any) error }) (*MediaReference, error) {
	var (
		id           int64
		jobID        int64
		mediaID      string
		filename     string
		cloudLocator sql.NullString
		externalID   sql.NullString
		localPath    sql.NullString
		segmentType  string
		createdRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&mediaID,
		&filename,
		&cloudLocator,
		&externalID,
		&localPath,
		&segmentType,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	ref := &MediaReference{
		ID:           id,
		JobID:        jobID,
		MediaID:      mediaID,
		Filename:     filename,
		CloudLocator: cloudLocator.String,
		ExternalID:   externalID.String,
		LocalPath:    localPath.String,
		SegmentType:  SegmentType(segmentType),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		ref.CreatedAt = created
	}
	return ref, nil
}
