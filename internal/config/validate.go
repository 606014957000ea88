package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateBilling(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStorage() error {
	if c.Storage.Primary.Bucket != "" {
		if c.Storage.Primary.Endpoint == "" {
			return errors.New("storage.primary.endpoint must be set when storage.primary.bucket is configured")
		}
		if !c.Storage.Primary.Public && (c.Storage.Primary.AccessKey == "" || c.Storage.Primary.SecretKey == "") {
			return errors.New("storage.primary needs access_key and secret_key (or STORAGE_PRIMARY_ACCESS_KEY / STORAGE_PRIMARY_SECRET_KEY) unless the bucket is public")
		}
	}
	if c.Storage.Legacy.Bucket != "" && c.Storage.Legacy.Endpoint == "" {
		return errors.New("storage.legacy.endpoint must be set when storage.legacy.bucket is configured")
	}
	return nil
}

func (c *Config) validateBilling() error {
	if !c.Billing.Enabled {
		return nil
	}
	if c.Billing.LedgerURL == "" {
		return errors.New("billing.ledger_url must be set when billing.enabled is true")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	switch c.Dispatch.Mode {
	case "inprocess", "queue":
		return nil
	case "worker":
		if c.Dispatch.WorkerURL == "" {
			return errors.New("dispatch.worker_url must be set when dispatch.mode is \"worker\"")
		}
		if c.Dispatch.SharedSecret == "" {
			return errors.New("dispatch.shared_secret must be set when dispatch.mode is \"worker\"")
		}
		return nil
	default:
		return fmt.Errorf("dispatch.mode %q is not one of inprocess, worker, queue", c.Dispatch.Mode)
	}
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":      c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":     c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":       c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":        c.Workflow.HeartbeatTimeout,
		"workflow.commit_attempts":          c.Workflow.CommitAttempts,
		"workflow.terminal_commit_attempts": c.Workflow.TerminalCommitAttempts,
		"workflow.commit_backoff_ms":        c.Workflow.CommitBackoffMS,
		"workflow.commit_max_backoff_ms":    c.Workflow.CommitMaxBackoffMS,
		"storage.fetch_attempts":            c.Storage.FetchAttempts,
		"storage.fetch_backoff_ms":          c.Storage.FetchBackoffMS,
		"storage.signed_url_expiry_minutes": c.Storage.SignedURLExpiryMinutes,
		"notifications.request_timeout":     c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of console, json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be greater than zero", key)
		}
	}
	return nil
}
