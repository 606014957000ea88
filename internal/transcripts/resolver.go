// Package transcripts resolves word-level transcript data for uploaded
// media. Identifier-based lookup through the media reference table is the
// primary path; filename matching is a compatibility fallback for records
// written before durable media identifiers existed.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
	"github.com/tgdscott/DoneCast-sub003/internal/storage"
)

// Resolver looks up transcripts by media identity with filename fallback.
type Resolver struct {
	cfg     *config.Config
	store   *queue.Store
	storage *storage.Resolver
	logger  *slog.Logger
}

// NewResolver constructs a transcript resolver.
func NewResolver(cfg *config.Config, store *queue.Store, storageResolver *storage.Resolver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		cfg:     cfg,
		store:   store,
		storage: storageResolver,
		logger:  logging.NewComponentLogger(logger, "transcripts"),
	}
}

// Resolve returns the word-level transcript payload for a media filename or
// locator. Strategies run in order; the first hit wins:
//  1. owning media reference by exact filename, then basename, then
//     normalized filename variants
//  2. the reference's transcript by durable identifier link
//  3. inline word data, else the archived payload behind the record's
//     storage pointer
//  4. legacy archive search by filename variants, when no reference matches
func (r *Resolver) Resolve(ctx context.Context, locator string) ([]byte, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return nil, services.Wrap(services.ErrValidation, "transcripts", "resolve", "empty locator", nil)
	}

	ref, err := r.findMediaReference(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		payload, err := r.ResolveForMedia(ctx, ref.MediaID)
		if err == nil {
			return payload, nil
		}
		if !isMissing(err) {
			return nil, err
		}
		// Identifier link exists but carries no transcript; fall through to
		// the legacy archive search.
	}

	return r.searchArchive(ctx, trimmed)
}

// ResolveForMedia returns the transcript payload linked to a media
// identifier. This is the reliable path: it survives filename drift across
// the machines that produced the upload and the transcript.
func (r *Resolver) ResolveForMedia(ctx context.Context, mediaID string) ([]byte, error) {
	record, err := r.store.TranscriptByMediaID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, services.Wrap(services.ErrMissingInput, "transcripts", "lookup",
			fmt.Sprintf("no transcript linked to media %s", mediaID), nil)
	}
	if record.HasInlineWords() {
		return []byte(record.WordsJSON), nil
	}
	if record.ArchiveLocator == "" {
		return nil, services.Wrap(services.ErrMissingInput, "transcripts", "lookup",
			fmt.Sprintf("transcript record for media %s has neither inline words nor an archive pointer", mediaID), nil)
	}
	return r.storage.ResolveBytes(ctx, record.ArchiveLocator)
}

func (r *Resolver) findMediaReference(ctx context.Context, locator string) (*queue.MediaReference, error) {
	ref, err := r.store.MediaByFilename(ctx, locator)
	if err != nil || ref != nil {
		return ref, err
	}

	base := storage.Basename(locator)
	if base != locator {
		ref, err = r.store.MediaByFilenameSuffix(ctx, base)
		if err != nil || ref != nil {
			return ref, err
		}
	}

	for _, variant := range filenameVariants(locator) {
		ref, err = r.store.MediaByFilenameFold(ctx, variant)
		if err != nil || ref != nil {
			return ref, err
		}
	}
	return nil, nil
}

// searchArchive is the legacy fallback for uploads that predate media
// identifiers: probe the transcript archive prefix by filename variants.
func (r *Resolver) searchArchive(ctx context.Context, locator string) ([]byte, error) {
	prefix := strings.Trim(r.cfg.Storage.TranscriptPrefix, "/")
	bucket := r.cfg.Storage.Primary.Bucket
	if bucket == "" {
		return nil, services.WrapHint(
			services.ErrMissingInput,
			"transcripts",
			"archive-search",
			fmt.Sprintf("no transcript for %s and no archive bucket to search", locator),
			"the upload may never have been transcribed",
			nil,
		)
	}

	tried := make([]string, 0, 4)
	for _, variant := range filenameVariants(locator) {
		key := variant
		if prefix != "" {
			key = prefix + "/" + variant
		}
		archiveLocator := "s3://" + bucket + "/" + transcriptKey(key)
		tried = append(tried, archiveLocator)

		payload, err := r.storage.ResolveBytes(ctx, archiveLocator)
		if err == nil {
			r.logger.Debug("transcript found by legacy archive search",
				logging.String("locator", locator),
				logging.String("archive", archiveLocator),
			)
			return payload, nil
		}
		if !isMissing(err) {
			return nil, err
		}
	}

	return nil, services.WrapHint(
		services.ErrMissingInput,
		"transcripts",
		"archive-search",
		fmt.Sprintf("no transcript for %s (tried %d archive locations)", locator, len(tried)),
		"the upload may never have been transcribed",
		nil,
	)
}

// filenameVariants generates the normalized forms tried by the fallback
// strategies: separator normalization, Unicode NFC (uploads from macOS
// arrive NFD-decomposed), and the bare basename. Order matters: the least
// altered variant is tried first.
func filenameVariants(locator string) []string {
	base := storage.Basename(locator)
	slashed := strings.ReplaceAll(strings.TrimSpace(locator), "\\", "/")

	candidates := []string{slashed, norm.NFC.String(slashed), base, norm.NFC.String(base)}

	seen := make(map[string]struct{}, len(candidates))
	variants := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		variants = append(variants, candidate)
	}
	return variants
}

func transcriptKey(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".json") {
		return key
	}
	return key + ".json"
}

func isMissing(err error) bool {
	return errors.Is(err, services.ErrMissingInput)
}
