package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateMux(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == c.Paths.OutputDir {
		return errors.New("paths.staging_dir and paths.output_dir must differ")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if !slices.Contains(CatalogBackends, c.Catalog.Backend) {
		return fmt.Errorf("catalog.backend must be one of %v, got %q", CatalogBackends, c.Catalog.Backend)
	}
	if c.Catalog.RequestTimeout <= 0 {
		return errors.New("catalog.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateFetch() error {
	if c.Fetch.MaxRetries < 0 {
		return errors.New("fetch.max_retries must be zero or positive")
	}
	if c.Fetch.BackoffBaseMS < 0 {
		return errors.New("fetch.backoff_base_ms must be zero or positive")
	}
	if c.Fetch.SpaceMargin < 1 {
		return errors.New("fetch.space_margin must be at least 1.0")
	}
	if c.Fetch.RateLimitKiB < 0 {
		return errors.New("fetch.rate_limit_kib must be zero or positive")
	}
	if c.Fetch.RequestTimeout <= 0 {
		return errors.New("fetch.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateMux() error {
	return ensurePositiveMap(map[string]int{
		"mux.min_timeout":     c.Mux.MinTimeout,
		"mux.seconds_per_gib": c.Mux.SecondsPerGiB,
	})
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.StaleScratchHours < 0 {
		return errors.New("workflow.stale_scratch_hours must be zero or positive")
	}
	if c.Workflow.SubmitRatePerMinute < 0 {
		return errors.New("workflow.submit_rate_per_minute must be zero or positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
