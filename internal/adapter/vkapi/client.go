// Package vkapi is the platform's remote-procedure client: named methods,
// form-encoded parameters, {"response": ...} or {"error": ...} envelopes.
package vkapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"vkmedia/internal/domain"
	"vkmedia/internal/infra/config"
	"vkmedia/internal/infra/tracer"
)

// falseToken is what CallSync returns for a call the API refused.
var falseToken = json.RawMessage("false")

const (
	defaultWorkers         = 4
	defaultMaxResponseSize = 1 << 20
)

// apiError is the platform's error object.
type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *apiError       `json:"error"`
}

type job struct {
	ctx     context.Context
	method  string
	params  domain.Params
	handler domain.CallHandler
}

// Client implements domain.APICaller over HTTP.
type Client struct {
	baseURL string
	version string
	token   string
	maxBody int64

	http    *http.Client
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
	logger  *slog.Logger

	workers   int
	jobs      chan job
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxResponseBytes bounds how much of a response body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New creates a Client from cfg. Call Start before using Call.
func New(cfg config.APIConfig, logger *slog.Logger, opts ...Option) *Client {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		version: cfg.Version,
		token:   cfg.Token,
		maxBody: defaultMaxResponseSize,
		http:    NewHTTPClient(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
		logger:  logger.With("component", "vkapi"),
		workers: workers,
		jobs:    make(chan job, max(cfg.QueueSize, 0)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker(cfg.Breaker, c.logger)
	return c
}

// Start launches the worker goroutines that serve Call.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		for i := 0; i < c.workers; i++ {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				for j := range c.jobs {
					c.run(j)
				}
			}()
		}
		c.logger.Debug("api workers started", "workers", c.workers)
	})
}

// Stop rejects new calls, lets queued ones finish and waits for the workers.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.jobs)
		c.mu.Unlock()
		c.wg.Wait()
		c.http.CloseIdleConnections()
	})
}

// Call queues method for a worker and returns. handler runs exactly once on
// a worker goroutine. After Stop, handler is called at once with
// domain.ErrClientClosed.
func (c *Client) Call(ctx context.Context, method string, params domain.Params, handler domain.CallHandler) {
	j := job{ctx: ctx, method: method, params: params, handler: handler}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		handler(nil, domain.NewSubSystemError("vkapi", "vkapi.Call", domain.ErrClientClosed, method))
		return
	}
	select {
	case c.jobs <- j:
	default:
		// Queue full. Handlers that issue follow-up calls run on workers, so
		// blocking here could stall every worker.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.run(j)
		}()
	}
	c.mu.RUnlock()
}

func (c *Client) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("api call handler panicked", "method", j.method, "panic", r)
		}
	}()
	j.handler(c.CallSync(j.ctx, j.method, j.params))
}

// CallSync issues method and blocks for its result. A call the API rejects
// with an error object yields the literal token false and a nil error;
// transport faults and unreadable replies are returned as errors.
func (c *Client) CallSync(ctx context.Context, method string, params domain.Params) (json.RawMessage, error) {
	ctx, span := tracer.StartCallSpan(ctx, method)

	resp, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.do(ctx, method, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = domain.NewSubSystemError("vkapi", "vkapi."+method, fmt.Errorf("%w: %w", domain.ErrAPIUnavailable, err), "circuit open")
		}
		tracer.End(span, err)
		return nil, err
	}
	tracer.End(span, nil)
	return resp, nil
}

func (c *Client) do(ctx context.Context, method string, params domain.Params) (json.RawMessage, error) {
	op := "vkapi." + method

	form := encodeParams(params)
	form.Set("access_token", c.token)
	form.Set("v", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/method/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.NewSubSystemError("vkapi", op, fmt.Errorf("%w: %w", domain.ErrAPICallFailed, err), "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	began := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewSubSystemError("vkapi", op, fmt.Errorf("%w: %w", domain.ErrAPICallFailed, err), "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, domain.NewSubSystemError("vkapi", op, fmt.Errorf("%w: %w", domain.ErrAPICallFailed, err), "read body")
	}
	if int64(len(body)) > c.maxBody {
		return nil, domain.NewSubSystemError("vkapi", op, domain.ErrResponseTooLarge, strconv.FormatInt(c.maxBody, 10)+" bytes")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewSubSystemError("vkapi", op, domain.ErrAPICallFailed,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.NewSubSystemError("vkapi", op, domain.ErrUnexpectedResponse, truncate(string(body), 256))
	}
	if env.Error != nil {
		c.logger.Warn("api call rejected",
			"method", method,
			"error_code", env.Error.Code,
			"error_msg", env.Error.Message,
		)
		return falseToken, nil
	}
	if len(env.Response) == 0 {
		return nil, domain.NewSubSystemError("vkapi", op, domain.ErrUnexpectedResponse, truncate(string(body), 256))
	}

	c.logger.Debug("api call complete", "method", method, "duration", time.Since(began))
	return env.Response, nil
}

// State reports the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func encodeParams(params domain.Params) url.Values {
	form := make(url.Values, len(params)+2)
	for k, v := range params {
		form.Set(k, formatValue(v))
	}
	return form
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []string:
		return strings.Join(x, ",")
	case json.RawMessage:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.APICaller = (*Client)(nil)
