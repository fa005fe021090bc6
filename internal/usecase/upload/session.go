package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"vkmedia/internal/domain"
	"vkmedia/internal/infra/tracer"
)

// Pipeline step names, used in logs and metrics.
const (
	stepNegotiate = "negotiate"
	stepTransfer  = "transfer"
	stepPersist   = "persist"
)

func newUploadID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// session runs one upload of one payload. The step methods are shared by the
// blocking and the callback-driven runners; only the way remote calls are
// issued differs.
type session struct {
	u       *Uploader
	proto   *protocol
	req     Request
	payload domain.MediaPayload

	id     string
	logger *slog.Logger
	ctx    context.Context
	span   trace.Span
	start  time.Time
}

func (u *Uploader) newSession(ctx context.Context, p *protocol, req Request, payload domain.MediaPayload) *session {
	id := newUploadID()
	ctx, span := tracer.StartUploadSpan(ctx, string(p.kind), id)
	span.SetAttributes(tracer.IntAttr("upload.bytes", len(payload.Data)))
	return &session{
		u:       u,
		proto:   p,
		req:     req,
		payload: payload,
		id:      id,
		logger:  u.logger.With("upload_id", id, "kind", string(p.kind)),
		ctx:     ctx,
		span:    span,
		start:   time.Now(),
	}
}

func (s *session) negotiateCall() (string, domain.Params) {
	return s.proto.negotiateMethod, s.proto.negotiateParams(s.req, s.u.opts)
}

// afterNegotiate turns the negotiation response into an upload target.
func (s *session) afterNegotiate(raw json.RawMessage, callErr error, began time.Time) (domain.UploadTarget, error) {
	s.u.metrics.ObserveStep(s.proto.kind, stepNegotiate, time.Since(began))
	if callErr != nil {
		return domain.UploadTarget{}, s.fail(stepNegotiate, callError("upload.negotiate", domain.ErrNegotiation, s.proto.negotiateMethod, callErr), nil)
	}
	target, err := parseNegotiation(raw)
	if err != nil {
		return domain.UploadTarget{}, s.fail(stepNegotiate, err, raw)
	}

	if s.proto.rewriteAlbum && hasLegacyAlbum(target.URL) {
		if target.AlbumID == 0 {
			s.logger.Warn("upload url carries aid=3 but no album_id was returned; leaving it unchanged", "step", stepNegotiate)
		} else {
			target.URL, _ = rewriteAlbumID(target.URL, target.AlbumID)
			s.logger.Debug("rewrote legacy album id in upload url", "step", stepNegotiate, "album_id", target.AlbumID)
		}
	}
	return target, nil
}

// transfer posts the payload to the upload target and validates the reply.
func (s *session) transfer(target domain.UploadTarget) (receipt, error) {
	began := time.Now()
	defer func() { s.u.metrics.ObserveStep(s.proto.kind, stepTransfer, time.Since(began)) }()

	ext := ""
	if s.proto.needsSniff(s.payload) {
		var err error
		ext, err = s.u.sniffer.Extension(s.payload.Data)
		if err != nil {
			return nil, s.fail(stepTransfer, domain.NewSubSystemError("upload", "upload.transfer",
				fmt.Errorf("%w: %w", domain.ErrMIMEDetection, err), ""), nil)
		}
	}
	name := s.proto.fileName(s.payload, ext)

	ctx, span := tracer.StartSpan(s.ctx, "upload.transfer",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracer.StringAttr("upload.field", s.proto.field), tracer.StringAttr("upload.file_name", name)),
	)
	text, err := s.u.poster.PostFile(ctx, target.URL, s.proto.field, name, s.payload.Data)
	tracer.End(span, err)
	if err != nil {
		return nil, s.fail(stepTransfer, domain.NewSubSystemError("upload", "upload.transfer",
			fmt.Errorf("%w: %w", domain.ErrUploadRequest, err), target.URL), nil)
	}
	s.u.metrics.AddBytes(s.proto.kind, len(s.payload.Data))

	rec, err := parseReceipt(text, s.proto.marker, s.proto.receiptSchema, s.proto.receiptFields)
	if err != nil {
		return nil, s.fail(stepTransfer, err, json.RawMessage(text))
	}
	s.logger.Debug("payload uploaded", "step", stepTransfer, "file_name", name, "bytes", len(s.payload.Data))
	return rec, nil
}

func (s *session) saveCall(rec receipt) (string, domain.Params) {
	return s.proto.saveMethod, s.proto.saveParams(rec, s.req)
}

// afterSave maps the save response to the session result.
func (s *session) afterSave(raw json.RawMessage, callErr error, began time.Time) (domain.Result, error) {
	s.u.metrics.ObserveStep(s.proto.kind, stepPersist, time.Since(began))
	if callErr != nil {
		return domain.Result{}, s.fail(stepPersist, callError("upload.persist", domain.ErrPersist, s.proto.saveMethod, callErr), nil)
	}

	res := domain.Result{Kind: s.proto.kind}
	if s.proto.attachTag == "" {
		body, err := parseRawSave(raw)
		if err != nil {
			return domain.Result{}, s.fail(stepPersist, err, raw)
		}
		res.Raw = body
		return res, nil
	}

	id, err := parseSaved(raw, s.proto.attachTag)
	if err != nil {
		return domain.Result{}, s.fail(stepPersist, err, raw)
	}
	res.Attachment = id
	return res, nil
}

// fail logs a step failure with the raw response that caused it.
func (s *session) fail(step string, err error, raw json.RawMessage) error {
	attrs := []any{"step", step, "code", string(domain.ErrorCodeOf(err)), "error", err}
	if len(raw) > 0 {
		attrs = append(attrs, "response", clip(string(raw)))
	}
	s.logger.Error("upload step failed", attrs...)
	return err
}

// finish closes the session's span and records its outcome.
func (s *session) finish(res domain.Result, err error) (domain.Result, error) {
	s.u.metrics.SessionDone(s.proto.kind, err)
	tracer.End(s.span, err)
	if err != nil {
		return domain.Result{}, err
	}
	s.logger.Info("upload finished", "result", res.String(), "duration", time.Since(s.start))
	return res, nil
}

func callError(op string, category error, method string, err error) error {
	return domain.NewSubSystemError("upload", op, fmt.Errorf("%w: %w", category, err), method)
}

// runSync executes every step on the calling goroutine.
func (s *session) runSync() (domain.Result, error) {
	method, params := s.negotiateCall()
	began := time.Now()
	raw, err := s.u.api.CallSync(s.ctx, method, params)
	target, err := s.afterNegotiate(raw, err, began)
	if err != nil {
		return s.finish(domain.Result{}, err)
	}

	rec, err := s.transfer(target)
	if err != nil {
		return s.finish(domain.Result{}, err)
	}

	method, params = s.saveCall(rec)
	began = time.Now()
	raw, err = s.u.api.CallSync(s.ctx, method, params)
	return s.finish(s.afterSave(raw, err, began))
}

// runAsync chains the steps through completion handlers: each remote call is
// issued from the previous call's handler. done is invoked exactly once, on
// whichever goroutine delivered the last response.
func (s *session) runAsync(done domain.ResultHandler) {
	var once sync.Once
	deliver := func(res domain.Result, err error) {
		once.Do(func() { done(s.finish(res, err)) })
	}

	method, params := s.negotiateCall()
	began := time.Now()
	s.u.api.Call(s.ctx, method, params, func(raw json.RawMessage, err error) {
		target, err := s.afterNegotiate(raw, err, began)
		if err != nil {
			deliver(domain.Result{}, err)
			return
		}

		rec, err := s.transfer(target)
		if err != nil {
			deliver(domain.Result{}, err)
			return
		}

		method, params := s.saveCall(rec)
		saveBegan := time.Now()
		s.u.api.Call(s.ctx, method, params, func(raw json.RawMessage, err error) {
			deliver(s.afterSave(raw, err, saveBegan))
		})
	})
}
