package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsOK(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.API.BaseURL = "not a url"
	cfg.API.Version = ""
	cfg.API.Workers = 0
	cfg.Upload.Cover = CoverCropConfig{X: 10, Y: 0, X2: 5, Y2: 400}
	cfg.Logger.Level = "loud"
	cfg.Batch.Concurrency = 0

	err := Validate(cfg)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 6)
	assert.True(t, strings.Contains(err.Error(), "api.base_url"))
	assert.True(t, strings.Contains(err.Error(), "upload.cover"))
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracer.exporter")

	cfg.Tracer.Exporter = "stdout"
	assert.NoError(t, Validate(cfg))
}

func TestValidateMetricsAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "9464"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics.addr")

	cfg.Metrics.Addr = "127.0.0.1:9464"
	assert.NoError(t, Validate(cfg))
}

func TestValidateNegativeGroup(t *testing.T) {
	cfg := Defaults()
	cfg.API.GroupID = -5
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.group_id")
}
