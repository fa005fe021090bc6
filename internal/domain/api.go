package domain

import (
	"context"
	"encoding/json"
)

// Params are the named parameters of a remote API call.
type Params map[string]any

// CallHandler receives the response of an asynchronous API call exactly once.
type CallHandler func(resp json.RawMessage, err error)

// APICaller issues named remote procedure calls against the platform API.
//
// A call-level rejection is reported as the literal JSON token false in resp
// with a nil error; err is reserved for transport faults.
type APICaller interface {
	CallSync(ctx context.Context, method string, params Params) (json.RawMessage, error)
	Call(ctx context.Context, method string, params Params, handler CallHandler)
}

// FileReader reads a whole local file.
type FileReader interface {
	ReadAll(path string) ([]byte, error)
}

// URLFetcher downloads a remote resource and reports its declared content type.
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// MIMESniffer detects a payload's type and returns its bare file extension (e.g. "jpg").
type MIMESniffer interface {
	Extension(data []byte) (string, error)
}

// MultipartPoster uploads a single file part and returns the response body as text.
type MultipartPoster interface {
	PostFile(ctx context.Context, url, field, fileName string, data []byte) (string, error)
}
