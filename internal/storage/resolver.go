package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/retry"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
)

// ObjectClient is the subset of object storage operations the resolver needs.
type ObjectClient interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error
}

// Resolver dispatches locator resolution across the configured backends. It
// is constructed once at startup and injected; there is no ambient global
// credential state.
type Resolver struct {
	cfg     *config.Config
	store   *queue.Store
	logger  *slog.Logger
	primary ObjectClient
	legacy  ObjectClient
	hosted  *http.Client
	fetch   retry.Policy
}

// NewResolver builds a resolver with clients for every configured bucket.
// Buckets without an endpoint stay unconfigured; resolving a locator for an
// unconfigured backend is a configuration error, not a silent fallback.
func NewResolver(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	resolver := &Resolver{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "storage"),
		hosted: &http.Client{Timeout: time.Duration(cfg.Hosting.RequestTimeout) * time.Second},
		fetch: retry.Policy{
			MaxAttempts:    cfg.Storage.FetchAttempts,
			InitialBackoff: time.Duration(cfg.Storage.FetchBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Storage.FetchBackoffMS) * 10 * time.Millisecond,
		},
	}

	var err error
	if resolver.primary, err = newBucketClient(cfg.Storage.Primary); err != nil {
		return nil, fmt.Errorf("primary storage client: %w", err)
	}
	if resolver.legacy, err = newBucketClient(cfg.Storage.Legacy); err != nil {
		return nil, fmt.Errorf("legacy storage client: %w", err)
	}
	return resolver, nil
}

// WithClients overrides the backend clients, for tests.
func (r *Resolver) WithClients(primary, legacy ObjectClient) *Resolver {
	r.primary = primary
	r.legacy = legacy
	return r
}

func newBucketClient(bucket config.Bucket) (ObjectClient, error) {
	if strings.TrimSpace(bucket.Endpoint) == "" {
		return nil, nil
	}
	opts := &minio.Options{
		Secure: bucket.UseSSL,
		Region: bucket.Region,
	}
	if bucket.AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(bucket.AccessKey, bucket.SecretKey, "")
	} else {
		opts.Creds = credentials.NewStaticV4("", "", "")
	}
	client, err := minio.New(bucket.Endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &minioObjectClient{client: client}, nil
}

type minioObjectClient struct {
	client *minio.Client
}

func (m *minioObjectClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; surface missing-object errors here instead of at
	// first read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, err
	}
	return object, nil
}

func (m *minioObjectClient) PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error) {
	return m.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
}

func (m *minioObjectClient) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

// ResolveBytes fetches the bytes behind a locator for assembly-time input.
// Cloud fetches get the bounded transient retry budget; a locator whose asset
// is genuinely absent is a missing-input failure and is not retried.
func (r *Resolver) ResolveBytes(ctx context.Context, raw string) ([]byte, error) {
	locator, err := Sniff(raw, r.cfg.Storage.Legacy.Endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "storage", "sniff", "unrecognized locator", err)
	}

	switch locator.Kind {
	case KindPrimary, KindLegacy:
		return r.fetchObject(ctx, locator)
	case KindLocal:
		data, err := os.ReadFile(locator.Path)
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrMissingInput, "storage", "read-cache", locator.Path, err)
		}
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "storage", "read-cache", locator.Path, err)
		}
		return data, nil
	case KindHosted:
		return r.fetchHostedStream(ctx, locator)
	default:
		return nil, services.Wrap(services.ErrValidation, "storage", "resolve-bytes", "unknown locator kind", nil)
	}
}

func (r *Resolver) fetchObject(ctx context.Context, locator Locator) ([]byte, error) {
	client, err := r.clientFor(locator.Kind)
	if err != nil {
		return nil, err
	}

	var data []byte
	fetchErr := retry.Do(ctx, r.fetch, isTransientFetch, func() error {
		reader, err := client.GetObject(ctx, locator.Bucket, locator.Key)
		if err != nil {
			return classifyFetchError(locator, err)
		}
		defer reader.Close()

		payload, err := io.ReadAll(reader)
		if err != nil {
			return services.Wrap(services.ErrTransient, "storage", "fetch", locator.Raw, err)
		}
		data = payload
		return nil
	})
	if fetchErr != nil {
		return nil, fetchErr
	}

	r.logger.Debug("resolved object",
		logging.String("locator", locator.Raw),
		logging.Int("bytes", len(data)),
	)
	return data, nil
}

// fetchHostedStream downloads a hosted reference's bytes from the hosting
// platform's stream endpoint. An episode whose only surviving locator is the
// external host id is still assemblable this way.
func (r *Resolver) fetchHostedStream(ctx context.Context, locator Locator) ([]byte, error) {
	streamURL := r.hostedStreamURL(locator)
	if r.cfg.Hosting.BaseURL == "" && !isAbsoluteURL(locator.ExternalID) {
		return nil, services.WrapHint(
			services.ErrConfiguration,
			"storage",
			"hosted-fetch",
			fmt.Sprintf("hosted reference %s needs [hosting] base_url to be fetched", locator.ExternalID),
			"set hosting.base_url, or re-upload the source audio",
			nil,
		)
	}

	var data []byte
	fetchErr := retry.Do(ctx, r.fetch, isTransientFetch, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
		if err != nil {
			return services.Wrap(services.ErrValidation, "storage", "hosted-fetch", streamURL, err)
		}
		if r.cfg.Hosting.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.cfg.Hosting.APIKey)
		}
		resp, err := r.hosted.Do(req)
		if err != nil {
			return services.Wrap(services.ErrTransient, "storage", "hosted-fetch", streamURL, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return services.WrapHint(
				services.ErrMissingInput,
				"storage",
				"hosted-fetch",
				fmt.Sprintf("hosting platform has no media for %s", locator.ExternalID),
				"the episode may have been removed from the hosting platform",
				nil,
			)
		case resp.StatusCode != http.StatusOK:
			return services.Wrap(services.ErrTransient, "storage", "hosted-fetch",
				fmt.Sprintf("%s returned %s", streamURL, resp.Status), nil)
		}

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return services.Wrap(services.ErrTransient, "storage", "hosted-fetch", streamURL, err)
		}
		data = payload
		return nil
	})
	if fetchErr != nil {
		return nil, fetchErr
	}

	r.logger.Debug("fetched hosted stream",
		logging.String("locator", locator.Raw),
		logging.Int("bytes", len(data)),
	)
	return data, nil
}

func isAbsoluteURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// ResolveToCache materializes a media reference's bytes in the local cache
// and records the path on the reference. An already-cached file is reused.
func (r *Resolver) ResolveToCache(ctx context.Context, ref *queue.MediaReference) (string, error) {
	if ref == nil {
		return "", services.Wrap(services.ErrValidation, "storage", "cache", "nil media reference", nil)
	}
	if ref.LocalPath != "" {
		if _, err := os.Stat(ref.LocalPath); err == nil {
			// The cache is ephemeral, never authoritative. A reference that
			// lost its cloud locator survives on the cached copy alone, so
			// flag it before it disappears with the next eviction.
			if ref.CloudLocator == "" && !hasDurableSource(ref.Filename, r.cfg.Storage.Legacy.Endpoint) {
				r.logger.Warn("media reference has no authoritative source behind its cached copy",
					logging.String("media_id", ref.MediaID),
					logging.String("path", ref.LocalPath),
				)
			}
			return ref.LocalPath, nil
		}
	}

	source := ref.CloudLocator
	if source == "" {
		source = ref.Filename
	}
	data, err := r.ResolveBytes(ctx, source)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.cfg.Paths.MediaCacheDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "storage", "cache", "create cache directory", err)
	}
	target := filepath.Join(r.cfg.Paths.MediaCacheDir, ref.MediaID+"_"+Basename(source))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "storage", "cache", "write cache file", err)
	}

	if r.store != nil {
		if err := r.store.SetMediaLocalPath(ctx, ref.ID, target); err != nil {
			return "", err
		}
	}
	ref.LocalPath = target
	return target, nil
}

// ResolvePlaybackURL produces a time-limited playback URL for a finished
// artifact. Signing failures fail closed: an unsigned URL is only ever
// produced for a bucket explicitly configured public.
func (r *Resolver) ResolvePlaybackURL(ctx context.Context, raw string) (string, error) {
	locator, err := Sniff(raw, r.cfg.Storage.Legacy.Endpoint)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "storage", "sniff", "unrecognized locator", err)
	}

	switch locator.Kind {
	case KindPrimary, KindLegacy:
		return r.signObjectURL(ctx, locator)
	case KindHosted:
		return r.hostedStreamURL(locator), nil
	case KindLocal:
		return "", services.Wrap(services.ErrValidation, "storage", "playback-url",
			"local cache files are not publicly addressable", nil)
	default:
		return "", services.Wrap(services.ErrValidation, "storage", "playback-url", "unknown locator kind", nil)
	}
}

func (r *Resolver) signObjectURL(ctx context.Context, locator Locator) (string, error) {
	bucket := r.bucketConfigFor(locator.Kind)
	client, err := r.clientFor(locator.Kind)
	if err != nil {
		if bucket.Public {
			return r.publicObjectURL(bucket, locator), nil
		}
		return "", err
	}

	expiry := time.Duration(r.cfg.Storage.SignedURLExpiryMinutes) * time.Minute
	signed, signErr := client.PresignedGetObject(ctx, locator.Bucket, locator.Key, expiry)
	if signErr != nil {
		if bucket.Public {
			r.logger.Warn("signing failed, serving public bucket URL",
				logging.String("locator", locator.Raw),
				logging.Error(signErr),
			)
			return r.publicObjectURL(bucket, locator), nil
		}
		return "", services.WrapHint(
			services.ErrTransient,
			"storage",
			"sign-url",
			locator.Raw,
			"check storage credentials; unsigned URLs are never substituted for private buckets",
			signErr,
		)
	}
	return signed.String(), nil
}

func (r *Resolver) publicObjectURL(bucket config.Bucket, locator Locator) string {
	scheme := "http"
	if bucket.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, bucket.Endpoint, locator.Bucket, locator.Key)
}

func (r *Resolver) hostedStreamURL(locator Locator) string {
	if strings.HasPrefix(locator.ExternalID, "http://") || strings.HasPrefix(locator.ExternalID, "https://") {
		return locator.ExternalID
	}
	base := strings.TrimRight(r.cfg.Hosting.BaseURL, "/")
	return base + "/media/" + locator.ExternalID + "/stream"
}

// Upload stores an artifact in the primary bucket and returns its locator.
// The payload is taken as a byte slice so every retry attempt sends the full
// body; a failed attempt has already consumed whatever reader it was given.
func (r *Resolver) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	client, err := r.clientFor(KindPrimary)
	if err != nil {
		return "", err
	}
	bucket := r.cfg.Storage.Primary.Bucket
	uploadErr := retry.Do(ctx, r.fetch, isTransientFetch, func() error {
		return client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), contentType)
	})
	if uploadErr != nil {
		return "", services.Wrap(services.ErrTransient, "storage", "upload", key, uploadErr)
	}
	return primaryScheme + bucket + "/" + key, nil
}

// hasDurableSource reports whether a locator addresses a backend that outlives
// the local cache.
func hasDurableSource(raw, legacyHost string) bool {
	locator, err := Sniff(raw, legacyHost)
	if err != nil {
		return false
	}
	return locator.Kind != KindLocal
}

func (r *Resolver) clientFor(kind Kind) (ObjectClient, error) {
	var client ObjectClient
	switch kind {
	case KindPrimary:
		client = r.primary
	case KindLegacy:
		client = r.legacy
	}
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "client",
			fmt.Sprintf("%s backend is not configured", kind), nil)
	}
	return client, nil
}

func (r *Resolver) bucketConfigFor(kind Kind) config.Bucket {
	if kind == KindLegacy {
		return r.cfg.Storage.Legacy
	}
	return r.cfg.Storage.Primary
}

// isTransientFetch is the retryable predicate for cloud fetches: transient
// infrastructure errors are retried, missing inputs and misconfiguration
// are not.
func isTransientFetch(err error) bool {
	return services.IsRetryable(err)
}

func classifyFetchError(locator Locator, err error) error {
	if errors.Is(err, services.ErrMissingInput) || errors.Is(err, services.ErrTransient) {
		return err
	}
	response := minio.ToErrorResponse(err)
	if response.Code == "NoSuchKey" || response.Code == "NoSuchBucket" {
		return services.Wrap(services.ErrMissingInput, "storage", "fetch", locator.Raw, err)
	}
	return services.Wrap(services.ErrTransient, "storage", "fetch", locator.Raw, err)
}
