package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkmedia/internal/domain"
	"vkmedia/internal/infra/logger"
)

func TestRecorderSessionOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder("test", reg)
	require.NoError(t, err)

	r.SessionDone(domain.KindMessagePhoto, nil)
	r.SessionDone(domain.KindMessagePhoto, domain.NewDomainError("op", domain.ErrUploadRejected, "raw"))
	r.SessionDone(domain.KindMessageDoc, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions.WithLabelValues("message_photo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions.WithLabelValues("message_photo", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("message_photo", "transfer", "UPLOAD_REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("message_doc", "other", "UNKNOWN")))
}

func TestRecorderStepsAndBytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder("", reg)
	require.NoError(t, err)

	r.ObserveStep(domain.KindGroupCover, "negotiate", 20*time.Millisecond)
	r.AddBytes(domain.KindGroupCover, 1024)
	r.AddBytes(domain.KindGroupCover, 0)

	assert.Equal(t, 1, testutil.CollectAndCount(r.stepDuration))
	assert.Equal(t, 1024.0, testutil.ToFloat64(r.bytes.WithLabelValues("group_cover")))
}

func TestRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRecorder("dup", reg)
	require.NoError(t, err)
	second, err := NewRecorder("dup", reg)
	require.NoError(t, err)

	second.SessionDone(domain.KindChatPhoto, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.sessions.WithLabelValues("chat_photo", "ok")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.SessionDone(domain.KindAlbumPhoto, nil)
	r.ObserveStep(domain.KindAlbumPhoto, "persist", time.Second)
	r.AddBytes(domain.KindAlbumPhoto, 10)
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder("srv", reg)
	require.NoError(t, err)
	r.SessionDone(domain.KindMessagePhoto, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer(ctx, "127.0.0.1:0", reg, logger.Discard())
	addr, err := s.Start()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.True(t, strings.Contains(string(body), `srv_upload_sessions_total{kind="message_photo",outcome="ok"} 1`))
}
