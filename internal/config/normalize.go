package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeHosting()
	c.normalizeBilling()
	c.normalizeDispatch()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.MediaCacheDir) == "" {
		c.Paths.MediaCacheDir = defaultMediaCacheDir
	}
	if c.Paths.MediaCacheDir, err = expandPath(c.Paths.MediaCacheDir); err != nil {
		return fmt.Errorf("paths.media_cache_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeStorage() {
	normalizeBucket(&c.Storage.Primary, "STORAGE_PRIMARY")
	normalizeBucket(&c.Storage.Legacy, "STORAGE_LEGACY")
	if c.Storage.SignedURLExpiryMinutes <= 0 {
		c.Storage.SignedURLExpiryMinutes = defaultSignedURLExpiryMinutes
	}
	if c.Storage.FetchAttempts <= 0 {
		c.Storage.FetchAttempts = defaultFetchAttempts
	}
	if c.Storage.FetchBackoffMS <= 0 {
		c.Storage.FetchBackoffMS = defaultFetchBackoffMS
	}
	c.Storage.TranscriptPrefix = strings.TrimSpace(c.Storage.TranscriptPrefix)
	if c.Storage.TranscriptPrefix == "" {
		c.Storage.TranscriptPrefix = defaultTranscriptPrefix
	}
	if !strings.HasSuffix(c.Storage.TranscriptPrefix, "/") {
		c.Storage.TranscriptPrefix += "/"
	}
}

func normalizeBucket(b *Bucket, envPrefix string) {
	b.Endpoint = strings.TrimSpace(b.Endpoint)
	b.Bucket = strings.TrimSpace(b.Bucket)
	if b.AccessKey == "" {
		if value, ok := os.LookupEnv(envPrefix + "_ACCESS_KEY"); ok {
			b.AccessKey = value
		}
	}
	if b.SecretKey == "" {
		if value, ok := os.LookupEnv(envPrefix + "_SECRET_KEY"); ok {
			b.SecretKey = value
		}
	}
}

func (c *Config) normalizeHosting() {
	c.Hosting.BaseURL = strings.TrimRight(strings.TrimSpace(c.Hosting.BaseURL), "/")
	if c.Hosting.RequestTimeout <= 0 {
		c.Hosting.RequestTimeout = defaultHostingTimeout
	}
}

func (c *Config) normalizeBilling() {
	c.Billing.LedgerURL = strings.TrimSpace(c.Billing.LedgerURL)
	if c.Billing.APIToken == "" {
		if value, ok := os.LookupEnv("DONECAST_LEDGER_TOKEN"); ok {
			c.Billing.APIToken = value
		}
	}
	if c.Billing.RequestTimeout <= 0 {
		c.Billing.RequestTimeout = defaultBillingTimeout
	}
	if c.Billing.PlanIncludedMinutes <= 0 {
		c.Billing.PlanIncludedMinutes = defaultPlanMinutes
	}
}

func (c *Config) normalizeDispatch() {
	c.Dispatch.Mode = strings.ToLower(strings.TrimSpace(c.Dispatch.Mode))
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = defaultDispatchMode
	}
	c.Dispatch.WorkerURL = strings.TrimRight(strings.TrimSpace(c.Dispatch.WorkerURL), "/")
	if c.Dispatch.RequestTimeout <= 0 {
		c.Dispatch.RequestTimeout = defaultDispatchTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.CommitAttempts <= 0 {
		c.Workflow.CommitAttempts = defaultCommitAttempts
	}
	if c.Workflow.TerminalCommitAttempts <= 0 {
		c.Workflow.TerminalCommitAttempts = defaultTerminalCommitAttempts
	}
	if c.Workflow.CommitBackoffMS <= 0 {
		c.Workflow.CommitBackoffMS = defaultCommitBackoffMS
	}
	if c.Workflow.CommitMaxBackoffMS <= 0 {
		c.Workflow.CommitMaxBackoffMS = defaultCommitMaxBackoffMS
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
