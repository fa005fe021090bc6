// Package upload moves media to the messaging platform: it resolves a
// reference to bytes, negotiates a one-time upload target, posts the bytes
// and persists the upload, yielding an attachment id.
package upload

import (
	"context"
	"io"
	"log/slog"
	"time"

	"vkmedia/internal/domain"
)

// Metrics receives upload telemetry.
type Metrics interface {
	ObserveStep(kind domain.MediaKind, step string, d time.Duration)
	AddBytes(kind domain.MediaKind, n int)
	SessionDone(kind domain.MediaKind, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStep(domain.MediaKind, string, time.Duration) {}
func (nopMetrics) AddBytes(domain.MediaKind, int)                      {}
func (nopMetrics) SessionDone(domain.MediaKind, error)                 {}

// CoverCrop is the crop box sent when negotiating a group cover upload.
type CoverCrop struct {
	X, Y, X2, Y2 int
}

// Options tune upload behavior.
type Options struct {
	// DefaultGroupID is used for cover uploads when a request names no group.
	DefaultGroupID int64
	CoverCrop      CoverCrop
}

// DefaultOptions returns the platform's standard cover crop and no default group.
func DefaultOptions() Options {
	return Options{CoverCrop: CoverCrop{X: 0, Y: 0, X2: 1590, Y2: 400}}
}

// Deps are the collaborators an Uploader drives.
type Deps struct {
	API     domain.APICaller
	Files   domain.FileReader
	Fetcher domain.URLFetcher
	Sniffer domain.MIMESniffer
	Poster  domain.MultipartPoster
	// GuessName maps a remote document's content type to a file name.
	GuessName func(contentType string) string
	Logger    *slog.Logger
	Metrics   Metrics
}

// Request describes one upload. Data takes precedence over Source.
type Request struct {
	Kind   domain.MediaKind
	Source string
	Data   []byte

	PeerID  int64
	ChatID  int64
	GroupID int64
	AlbumID int64

	DocType  domain.DocType
	FileName string
}

// Uploader exposes every upload kind in a blocking and a callback form. Both
// forms run the same steps; the callback form never blocks on the remote API
// and starts no goroutines of its own.
type Uploader struct {
	api      domain.APICaller
	sniffer  domain.MIMESniffer
	poster   domain.MultipartPoster
	resolver *Resolver
	logger   *slog.Logger
	metrics  Metrics
	opts     Options
}

// New creates an Uploader.
func New(deps Deps, opts Options) *Uploader {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "upload")
	var m Metrics = nopMetrics{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}
	return &Uploader{
		api:      deps.API,
		sniffer:  deps.Sniffer,
		poster:   deps.Poster,
		resolver: NewResolver(deps.Files, deps.Fetcher, deps.GuessName, logger),
		logger:   logger,
		metrics:  m,
		opts:     opts,
	}
}

// prepare checks parameters and materializes the payload. Parameter problems
// are reported before any I/O happens.
func (u *Uploader) prepare(ctx context.Context, req Request) (*protocol, Request, domain.MediaPayload, error) {
	const op = "upload.prepare"

	p, ok := protocolFor(req.Kind)
	if !ok {
		return nil, req, domain.MediaPayload{}, domain.NewSubSystemError("upload", op, domain.ErrUnsupportedKind, string(req.Kind))
	}

	switch req.Kind {
	case domain.KindGroupCover:
		if req.GroupID == 0 {
			req.GroupID = u.opts.DefaultGroupID
		}
		if req.GroupID == 0 {
			return nil, req, domain.MediaPayload{}, domain.NewSubSystemError("upload", op, domain.ErrMissingGroup, "cover upload needs a group id")
		}
	case domain.KindAlbumPhoto:
		if req.AlbumID == 0 {
			return nil, req, domain.MediaPayload{}, domain.NewSubSystemError("upload", op, domain.ErrMissingAlbum, "album upload needs an album id")
		}
	case domain.KindMessageDoc:
		dt, err := domain.ParseDocType(string(req.DocType))
		if err != nil {
			return nil, req, domain.MediaPayload{}, err
		}
		req.DocType = dt
	}

	if req.Data != nil {
		if len(req.Data) == 0 {
			return nil, req, domain.MediaPayload{}, domain.NewSubSystemError("upload", op, domain.ErrEmptyPayload, "")
		}
		return p, req, domain.MediaPayload{Data: req.Data, FileName: req.FileName}, nil
	}

	payload, err := u.resolver.Resolve(ctx, req.Source, req.Kind == domain.KindMessageDoc)
	if err != nil {
		return nil, req, domain.MediaPayload{}, err
	}
	if req.FileName != "" {
		payload.FileName = req.FileName
	}
	return p, req, payload, nil
}

func (u *Uploader) rejected(req Request, err error) {
	u.metrics.SessionDone(req.Kind, err)
	u.logger.Error("upload rejected before start",
		"kind", string(req.Kind),
		"source", req.Source,
		"code", string(domain.ErrorCodeOf(err)),
		"error", err,
	)
}

// Upload runs req to completion on the calling goroutine.
func (u *Uploader) Upload(ctx context.Context, req Request) (domain.Result, error) {
	p, req, payload, err := u.prepare(ctx, req)
	if err != nil {
		u.rejected(req, err)
		return domain.Result{}, err
	}
	return u.newSession(ctx, p, req, payload).runSync()
}

// UploadAsync starts req and returns once the first remote call is issued.
// Resolution of req.Source happens on the calling goroutine. done is called
// exactly once; for early failures it runs before UploadAsync returns.
func (u *Uploader) UploadAsync(ctx context.Context, req Request, done domain.ResultHandler) {
	p, req, payload, err := u.prepare(ctx, req)
	if err != nil {
		u.rejected(req, err)
		done(domain.Result{}, err)
		return
	}
	u.newSession(ctx, p, req, payload).runAsync(done)
}

// UploadPhoto uploads a photo for a message to peerID.
func (u *Uploader) UploadPhoto(ctx context.Context, ref string, peerID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindMessagePhoto, Source: ref, PeerID: peerID})
}

func (u *Uploader) UploadPhotoBytes(ctx context.Context, data []byte, peerID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindMessagePhoto, Data: nonNil(data), PeerID: peerID})
}

func (u *Uploader) UploadPhotoAsync(ctx context.Context, ref string, peerID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindMessagePhoto, Source: ref, PeerID: peerID}, done)
}

func (u *Uploader) UploadPhotoBytesAsync(ctx context.Context, data []byte, peerID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindMessagePhoto, Data: nonNil(data), PeerID: peerID}, done)
}

// UploadDoc uploads a document for a message to peerID. An empty fileName
// keeps the name derived from ref.
func (u *Uploader) UploadDoc(ctx context.Context, ref string, peerID int64, docType domain.DocType, fileName string) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindMessageDoc, Source: ref, PeerID: peerID, DocType: docType, FileName: fileName})
}

func (u *Uploader) UploadDocBytes(ctx context.Context, data []byte, peerID int64, docType domain.DocType, fileName string) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindMessageDoc, Data: nonNil(data), PeerID: peerID, DocType: docType, FileName: fileName})
}

func (u *Uploader) UploadDocAsync(ctx context.Context, ref string, peerID int64, docType domain.DocType, fileName string, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindMessageDoc, Source: ref, PeerID: peerID, DocType: docType, FileName: fileName}, done)
}

func (u *Uploader) UploadDocBytesAsync(ctx context.Context, data []byte, peerID int64, docType domain.DocType, fileName string, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindMessageDoc, Data: nonNil(data), PeerID: peerID, DocType: docType, FileName: fileName}, done)
}

// UploadPhotoToAlbum uploads a photo into albumID, owned by groupID when it is
// non-zero and by the token's user otherwise.
func (u *Uploader) UploadPhotoToAlbum(ctx context.Context, ref string, albumID, groupID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindAlbumPhoto, Source: ref, AlbumID: albumID, GroupID: groupID})
}

func (u *Uploader) UploadPhotoToAlbumBytes(ctx context.Context, data []byte, albumID, groupID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindAlbumPhoto, Data: nonNil(data), AlbumID: albumID, GroupID: groupID})
}

func (u *Uploader) UploadPhotoToAlbumAsync(ctx context.Context, ref string, albumID, groupID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindAlbumPhoto, Source: ref, AlbumID: albumID, GroupID: groupID}, done)
}

func (u *Uploader) UploadPhotoToAlbumBytesAsync(ctx context.Context, data []byte, albumID, groupID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindAlbumPhoto, Data: nonNil(data), AlbumID: albumID, GroupID: groupID}, done)
}

// UploadPhotoChat sets the photo of chat chatID. The result carries the raw
// save response.
func (u *Uploader) UploadPhotoChat(ctx context.Context, ref string, chatID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindChatPhoto, Source: ref, ChatID: chatID})
}

func (u *Uploader) UploadPhotoChatBytes(ctx context.Context, data []byte, chatID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindChatPhoto, Data: nonNil(data), ChatID: chatID})
}

func (u *Uploader) UploadPhotoChatAsync(ctx context.Context, ref string, chatID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindChatPhoto, Source: ref, ChatID: chatID}, done)
}

func (u *Uploader) UploadPhotoChatBytesAsync(ctx context.Context, data []byte, chatID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindChatPhoto, Data: nonNil(data), ChatID: chatID}, done)
}

// UploadCoverGroup replaces the cover of groupID (or the configured default
// group when groupID is 0). The result carries the raw save response.
func (u *Uploader) UploadCoverGroup(ctx context.Context, ref string, groupID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindGroupCover, Source: ref, GroupID: groupID})
}

func (u *Uploader) UploadCoverGroupBytes(ctx context.Context, data []byte, groupID int64) (domain.Result, error) {
	return u.Upload(ctx, Request{Kind: domain.KindGroupCover, Data: nonNil(data), GroupID: groupID})
}

func (u *Uploader) UploadCoverGroupAsync(ctx context.Context, ref string, groupID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindGroupCover, Source: ref, GroupID: groupID}, done)
}

func (u *Uploader) UploadCoverGroupBytesAsync(ctx context.Context, data []byte, groupID int64, done domain.ResultHandler) {
	u.UploadAsync(ctx, Request{Kind: domain.KindGroupCover, Data: nonNil(data), GroupID: groupID}, done)
}

// nonNil makes the Bytes variants distinguishable from reference uploads
// even when the caller passes a nil slice.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
