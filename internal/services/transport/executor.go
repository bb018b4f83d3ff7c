package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/sirupsen/logrus"
)

// ErrorKind classifies transport failures
type ErrorKind string

const (
	KindUnreachable ErrorKind = "unreachable"
	KindStatus      ErrorKind = "status"
	KindAborted     ErrorKind = "aborted"
	KindRequest     ErrorKind = "request"
)

// Error is returned as a value by Execute, never panicked
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAborted reports whether err is a transport error caused by cancellation
func IsAborted(err error) bool {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindAborted {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// Request describes one provider HTTP call
type Request struct {
	URL     string
	Method  string
	APIKey  string
	Payload interface{}
	Headers http.Header
}

// customAuthHeaders are provider-specific auth headers that suppress Bearer injection
var customAuthHeaders = []string{"Authorization", "X-Api-Key", "X-Goog-Api-Key"}

// Observer receives the outcome of every request
type Observer interface {
	ObserveProviderRequest(host, outcome string, duration time.Duration)
}

// Executor issues provider requests and classifies failures uniformly
type Executor struct {
	client   *http.Client
	logger   *logrus.Logger
	observer Observer
}

// SetObserver installs a request observer, typically the metrics recorder
func (e *Executor) SetObserver(o Observer) {
	e.observer = o
}

// NewExecutor creates an executor. Streams are never deadline-bound; only the
// wait for response headers is limited when configured.
func NewExecutor(cfg config.TransportConfig, logger *logrus.Logger) *Executor {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &Executor{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			},
		},
		logger: logger,
	}
}

// NewExecutorWithClient creates an executor around an existing client
func NewExecutorWithClient(client *http.Client, logger *logrus.Logger) *Executor {
	return &Executor{client: client, logger: logger}
}

// Execute sends the request. On a non-2xx status both the response and an
// error are returned; the response body stays readable.
func (e *Executor) Execute(ctx context.Context, r Request) (*http.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if r.Payload != nil {
		data, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, &Error{Kind: KindRequest, Message: "failed to marshal request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Message: "failed to create request", Err: err}
	}

	for key, values := range r.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.APIKey != "" && !hasAuthHeader(req.Header) {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			e.observe(req.URL.Host, string(KindAborted), start)
			return nil, &Error{Kind: KindAborted, Message: "request aborted", Err: context.Canceled}
		}
		e.logger.WithFields(logrus.Fields{
			"url":    redactURL(r.URL),
			"method": method,
		}).WithError(err).Warn("Provider unreachable")
		e.observe(req.URL.Host, string(KindUnreachable), start)
		return nil, &Error{
			Kind:    KindUnreachable,
			Message: "failed to reach the provider, check its base URL and your network reachability",
			Err:     err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(data))

		msg := parseErrorMessage(data)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		e.logger.WithFields(logrus.Fields{
			"url":    redactURL(r.URL),
			"status": resp.StatusCode,
		}).Warn("Provider returned error status")
		e.observe(req.URL.Host, strconv.Itoa(resp.StatusCode), start)
		return resp, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Message: msg}
	}

	e.observe(req.URL.Host, strconv.Itoa(resp.StatusCode), start)
	return resp, nil
}

func (e *Executor) observe(host, outcome string, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveProviderRequest(host, outcome, time.Since(start))
	}
}

// EmptyBody returns an already-drained reader used when no response exists
func EmptyBody() io.ReadCloser {
	return http.NoBody
}

func hasAuthHeader(h http.Header) bool {
	for _, name := range customAuthHeaders {
		if h.Get(name) != "" {
			return true
		}
	}
	return false
}

const maxErrorText = 512

// parseErrorMessage understands {"error":{"message":..}}, {"error":".."} and {"message":".."}
func parseErrorMessage(data []byte) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorText {
			text = text[:maxErrorText]
		}
		return text
	}
	if len(body.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var text string
		if err := json.Unmarshal(body.Error, &text); err == nil && text != "" {
			return text
		}
	}
	return body.Message
}

// redactURL strips query strings, which some providers use for keys
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
