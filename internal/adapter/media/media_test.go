package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkmedia/internal/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestFilesReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	data, err := Files{}.ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = Files{}.ReadAll(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngHeader)
		case "/big":
			w.Write([]byte(strings.Repeat("x", 100)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), 64)

	data, ct, err := f.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "image/png", ct)

	_, _, err = f.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, domain.ErrResponseTooLarge)

	_, _, err = f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSnifferExtension(t *testing.T) {
	ext, err := Sniffer{}.Extension(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "png", ext)

	ext, err = Sniffer{}.Extension([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"))
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)

	_, err = Sniffer{}.Extension(nil)
	assert.Error(t, err)
}

func TestGuessFileName(t *testing.T) {
	assert.Equal(t, "file.pdf", GuessFileName("application/pdf"))
	assert.Equal(t, "file.png", GuessFileName("image/png; charset=binary"))
	assert.Equal(t, "file", GuessFileName(""))
	assert.Equal(t, "file", GuessFileName("application/x-unknown-thing"))
}

func TestMultipartPoster(t *testing.T) {
	var gotField, gotName string
	var gotData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		for field, files := range r.MultipartForm.File {
			gotField = field
			gotName = files[0].Filename
			fh, err := files[0].Open()
			if !assert.NoError(t, err) {
				return
			}
			gotData, _ = io.ReadAll(fh)
			fh.Close()
		}
		w.Write([]byte(`{"photo":"p","server":1,"hash":"h"}`))
	}))
	defer srv.Close()

	p := NewMultipartPoster(srv.Client(), 1024)
	text, err := p.PostFile(context.Background(), srv.URL+"/upload?aid=-5", "photo", "photo.png", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, `{"photo":"p","server":1,"hash":"h"}`, text)
	assert.Equal(t, "photo", gotField)
	assert.Equal(t, "photo.png", gotName)
	assert.Equal(t, pngHeader, gotData)
}

func TestMultipartPosterNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewMultipartPoster(srv.Client(), 0).PostFile(context.Background(), srv.URL, "file", "a.txt", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
