package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAPI(cfg, ve)
	validateUpload(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	if cfg.Batch.Concurrency <= 0 {
		ve.Add("batch.concurrency must be > 0")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAPI(cfg *Config, ve *ValidationError) {
	a := cfg.API
	if u, err := url.Parse(a.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("api.base_url %q must be an absolute URL", a.BaseURL)
	}
	if a.Version == "" {
		ve.Add("api.version must not be empty")
	}
	if a.GroupID < 0 {
		ve.Add("api.group_id must be >= 0 (use the positive community id)")
	}
	if a.ConnTimeout <= 0 {
		ve.Add("api.conn_timeout must be > 0")
	}
	if a.RespTimeout <= 0 {
		ve.Add("api.resp_timeout must be > 0")
	}
	if a.Workers <= 0 {
		ve.Add("api.workers must be > 0")
	}
	if a.QueueSize < 0 {
		ve.Add("api.queue_size must be >= 0")
	}
	if a.Breaker.Timeout < 0 || a.Breaker.Interval < 0 {
		ve.Add("api.breaker durations must be >= 0")
	}
}

func validateUpload(cfg *Config, ve *ValidationError) {
	u := cfg.Upload
	if u.MaxDownloadBytes <= 0 {
		ve.Add("upload.max_download_bytes must be > 0")
	}
	if u.MaxResponseBytes <= 0 {
		ve.Add("upload.max_response_bytes must be > 0")
	}
	if u.FetchTimeout <= 0 {
		ve.Add("upload.fetch_timeout must be > 0")
	}
	if u.UploadTimeout <= 0 {
		ve.Add("upload.upload_timeout must be > 0")
	}
	c := u.Cover
	if c.X < 0 || c.Y < 0 || c.X2 <= c.X || c.Y2 <= c.Y {
		ve.Add("upload.cover crop box (%d,%d)-(%d,%d) is invalid", c.X, c.Y, c.X2, c.Y2)
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is invalid: %v", cfg.Metrics.Addr, err)
	}
	if cfg.Metrics.Namespace == "" {
		ve.Add("metrics.namespace must not be empty")
	}
}
