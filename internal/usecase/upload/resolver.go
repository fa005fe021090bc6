package upload

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"vkmedia/internal/domain"
)

// Classify turns a user-supplied string into a media reference. An existing
// filesystem entry wins over URL syntax; anything else must be an absolute
// http(s) URL with a host.
func Classify(raw string) domain.MediaReference {
	if raw == "" {
		return domain.InvalidReference{Raw: raw}
	}
	if _, err := os.Stat(raw); err == nil {
		return domain.LocalPath{Path: raw}
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return domain.RemoteURL{URL: raw}
		}
	}
	return domain.InvalidReference{Raw: raw}
}

// Resolver materializes media references into payloads.
type Resolver struct {
	files     domain.FileReader
	fetcher   domain.URLFetcher
	guessName func(contentType string) string
	logger    *slog.Logger
}

// NewResolver creates a Resolver. guessName maps a declared content type to a
// document file name; it is only consulted for remote documents.
func NewResolver(files domain.FileReader, fetcher domain.URLFetcher, guessName func(string) string, logger *slog.Logger) *Resolver {
	return &Resolver{files: files, fetcher: fetcher, guessName: guessName, logger: logger}
}

// Resolve classifies raw and reads its bytes. When wantName is set the payload
// also carries a file name: the base name for local files, or one derived
// from the response content type for URLs.
func (r *Resolver) Resolve(ctx context.Context, raw string, wantName bool) (domain.MediaPayload, error) {
	const op = "upload.resolve"

	var payload domain.MediaPayload
	switch ref := Classify(raw).(type) {
	case domain.LocalPath:
		data, err := r.files.ReadAll(ref.Path)
		if err != nil {
			r.logger.Error("read media file failed", "path", ref.Path, "error", err)
			return domain.MediaPayload{}, domain.NewSubSystemError("upload", op,
				fmt.Errorf("%w: %w", domain.ErrReadFailed, err), ref.Path)
		}
		payload.Data = data
		if wantName {
			payload.FileName = filepath.Base(ref.Path)
		}

	case domain.RemoteURL:
		data, contentType, err := r.fetcher.Fetch(ctx, ref.URL)
		if err != nil {
			r.logger.Error("fetch media url failed", "url", ref.URL, "error", err)
			return domain.MediaPayload{}, domain.NewSubSystemError("upload", op,
				fmt.Errorf("%w: %w", domain.ErrFetchFailed, err), ref.URL)
		}
		payload.Data = data
		if wantName && r.guessName != nil {
			payload.FileName = r.guessName(contentType)
		}

	case domain.InvalidReference:
		r.logger.Error("media reference is neither an existing file nor a URL", "reference", ref.Raw)
		return domain.MediaPayload{}, domain.NewSubSystemError("upload", op, domain.ErrBadReference, ref.Raw)
	}

	if payload.Empty() {
		r.logger.Error("media reference resolved to zero bytes", "reference", raw)
		return domain.MediaPayload{}, domain.NewSubSystemError("upload", op, domain.ErrEmptyPayload, raw)
	}
	return payload, nil
}
