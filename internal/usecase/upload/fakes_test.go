package upload

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"vkmedia/internal/domain"
)

type apiCall struct {
	method string
	params domain.Params
}

// fakeAPI answers each method with a canned response. Call delivers on a new
// goroutine, like the real worker-pool client.
type fakeAPI struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []apiCall
}

func newFakeAPI(responses map[string]string) *fakeAPI {
	return &fakeAPI{responses: responses, errs: map[string]error{}}
}

func (f *fakeAPI) answer(method string, params domain.Params) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{method: method, params: params})
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	resp, ok := f.responses[method]
	if !ok {
		return json.RawMessage("false"), nil
	}
	return json.RawMessage(resp), nil
}

func (f *fakeAPI) CallSync(_ context.Context, method string, params domain.Params) (json.RawMessage, error) {
	return f.answer(method, params)
}

func (f *fakeAPI) Call(_ context.Context, method string, params domain.Params, handler domain.CallHandler) {
	go func() { handler(f.answer(method, params)) }()
}

func (f *fakeAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func (f *fakeAPI) paramsOf(method string) domain.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.method == method {
			return c.params
		}
	}
	return nil
}

type fakeFiles struct {
	mu    sync.Mutex
	reads []string
}

func (f *fakeFiles) ReadAll(path string) ([]byte, error) {
	f.mu.Lock()
	f.reads = append(f.reads, path)
	f.mu.Unlock()
	return os.ReadFile(path)
}

type fakeFetcher struct {
	mu          sync.Mutex
	data        []byte
	contentType string
	err         error
	fetched     []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.contentType, nil
}

type fakeSniffer struct {
	ext   string
	err   error
	calls int
}

func (f *fakeSniffer) Extension(data []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(data) == 0 {
		return "", errors.New("empty")
	}
	return f.ext, nil
}

type postedFile struct {
	url, field, name string
	data             []byte
}

type fakePoster struct {
	mu    sync.Mutex
	reply string
	err   error
	posts []postedFile
}

func (f *fakePoster) PostFile(_ context.Context, url, field, fileName string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postedFile{url: url, field: field, name: fileName, data: data})
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakePoster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type recordingMetrics struct {
	mu       sync.Mutex
	sessions map[domain.MediaKind][]error
	steps    []string
}

func (m *recordingMetrics) ObserveStep(_ domain.MediaKind, step string, _ time.Duration) {
	m.mu.Lock()
	m.steps = append(m.steps, step)
	m.mu.Unlock()
}

func (m *recordingMetrics) AddBytes(domain.MediaKind, int) {}

func (m *recordingMetrics) SessionDone(kind domain.MediaKind, err error) {
	m.mu.Lock()
	if m.sessions == nil {
		m.sessions = map[domain.MediaKind][]error{}
	}
	m.sessions[kind] = append(m.sessions[kind], err)
	m.mu.Unlock()
}

// harness wires an Uploader to fakes.
type harness struct {
	api     *fakeAPI
	files   *fakeFiles
	fetcher *fakeFetcher
	sniffer *fakeSniffer
	poster  *fakePoster
	metrics *recordingMetrics
	up      *Uploader
}

func newHarness(responses map[string]string, uploadReply string) *harness {
	h := &harness{
		api:     newFakeAPI(responses),
		files:   &fakeFiles{},
		fetcher: &fakeFetcher{data: []byte("remote-bytes"), contentType: "application/pdf"},
		sniffer: &fakeSniffer{ext: "jpg"},
		poster:  &fakePoster{reply: uploadReply},
		metrics: &recordingMetrics{},
	}
	opts := DefaultOptions()
	h.up = New(Deps{
		API:       h.api,
		Files:     h.files,
		Fetcher:   h.fetcher,
		Sniffer:   h.sniffer,
		Poster:    h.poster,
		GuessName: func(ct string) string { return "guessed-" + ct },
		Metrics:   h.metrics,
	}, opts)
	return h
}

type outcome struct {
	res domain.Result
	err error
}

// runAsync waits for the single delivery of an async upload.
func runAsync(start func(done domain.ResultHandler)) outcome {
	ch := make(chan outcome, 2)
	start(func(res domain.Result, err error) { ch <- outcome{res, err} })
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		return outcome{err: errors.New("async upload never completed")}
	}
}
