package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.MediaCacheDir = filepath.Join(base, "cache")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithBilling enables the billing hook against the given ledger URL.
func WithBilling(ledgerURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Billing.Enabled = true
		cfg.Billing.LedgerURL = ledgerURL
	}
}

// WithDispatchWorker points dispatch at a remote worker for tests.
func WithDispatchWorker(url, secret string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Dispatch.Mode = "worker"
		cfg.Dispatch.WorkerURL = url
		cfg.Dispatch.SharedSecret = secret
	}
}
