// Package media holds the byte-level helpers an upload needs: local reads,
// URL downloads, type sniffing and multipart posts.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"vkmedia/internal/domain"
)

const userAgent = "vkmedia/1.0"

// Files reads local files.
type Files struct{}

// ReadAll returns the whole content of path.
func (Files) ReadAll(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// HTTPFetcher downloads remote media.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher that refuses bodies larger than maxBytes.
func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads rawURL and returns its body and declared content type.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, "", fmt.Errorf("%w: content length %d exceeds %d", domain.ErrResponseTooLarge, resp.ContentLength, f.maxBytes)
	}

	body, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrResponseTooLarge, limit)
	}
	return body, nil
}

// Sniffer detects payload types from their leading bytes.
type Sniffer struct{}

var errEmptyData = errors.New("no data to sniff")

// Extension returns the bare extension of data's detected type, e.g. "png".
func (Sniffer) Extension(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errEmptyData
	}
	m := mimetype.Detect(data)
	ext := strings.TrimPrefix(m.Extension(), ".")
	if ext == "" {
		return "", fmt.Errorf("unrecognized content type %s", m.String())
	}
	return ext, nil
}

// GuessFileName derives a document name from a Content-Type header value:
// "file.<ext>" for a known type, "file" otherwise.
func GuessFileName(contentType string) string {
	const stem = "file"
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return stem
	}
	if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
		return stem + m.Extension()
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return stem + exts[0]
	}
	return stem
}

// MultipartPoster uploads one file part per request.
type MultipartPoster struct {
	client   *http.Client
	maxReply int64
}

// NewMultipartPoster creates a poster whose replies are capped at maxReply bytes.
func NewMultipartPoster(client *http.Client, maxReply int64) *MultipartPoster {
	if client == nil {
		client = http.DefaultClient
	}
	return &MultipartPoster{client: client, maxReply: maxReply}
}

// PostFile sends data as the single file part field/fileName and returns
// the reply body as text.
func (p *MultipartPoster) PostFile(ctx context.Context, url, field, fileName string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, p.maxReply)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload server status %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

var (
	_ domain.FileReader      = Files{}
	_ domain.URLFetcher      = (*HTTPFetcher)(nil)
	_ domain.MIMESniffer     = Sniffer{}
	_ domain.MultipartPoster = (*MultipartPoster)(nil)
)
