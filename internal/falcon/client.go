package falcon

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"sweeper/internal/platform/metrics"
)

// tokenOperation labels token requests in logs and metrics.
const tokenOperation Operation = "oauth2AccessToken"

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "sweeper/1.0"
	maxDebugBody     = 2048
)

var errTooManyRequests = errors.New("falcon api answered 429")

// Config holds transport settings shared by every tenant session.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  rate.Limit // requests per second; zero disables limiting
	Burst      int
	MaxRetries uint64 // retries of a 429 answer
	UserAgent  string
}

// Auth identifies the API client and the tenant a session is scoped to.
// MemberCID is empty for the parent tenant.
type Auth struct {
	ClientID     string
	ClientSecret string
	MemberCID    string
	VerifyTLS    bool
	Debug        bool
}

// Client is a Session backed by the Falcon REST API. Tokens are obtained with
// the OAuth2 client-credentials flow; child tenants are addressed by passing
// member_cid to the token endpoint. Every token request runs under the
// caller's context.
type Client struct {
	cfg     Config
	auth    Auth
	http    *http.Client
	creds   *clientcredentials.Config
	limiter *rate.Limiter

	mu    sync.Mutex
	token *oauth2.Token

	newBackOff func() backoff.BackOff
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

var _ Session = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithBackOff overrides the retry schedule used for 429 answers.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

// NewClient builds a session for one tenant. No network call happens until
// Authenticate or Invoke.
func NewClient(cfg Config, auth Auth, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		auth:       auth,
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("member_cid", auth.MemberCID))

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !auth.VerifyTLS {
		// Only on operator request, for TLS-intercepting proxies.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12} //nolint:gosec
	}
	c.http = &http.Client{Transport: transport, Timeout: cfg.Timeout}

	c.creds = &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     cfg.BaseURL + TokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if auth.MemberCID != "" {
		c.creds.EndpointParams = url.Values{"member_cid": {auth.MemberCID}}
	}

	return c
}

// fetchToken requests a new token. The request is bound to ctx.
func (c *Client) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return tok, nil
}

// accessToken returns the cached token while it is valid and fetches a new
// one otherwise.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok.Valid() {
		return tok, nil
	}
	return c.fetchToken(ctx)
}

// Authenticate requests a token for the session's tenant. 400, 401 and 403
// answers from the token endpoint are reported as a rejection.
func (c *Client) Authenticate(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, c.classify(ctx, tokenOperation, err)
	}

	start := time.Now()
	_, err := c.fetchToken(ctx)
	elapsed := time.Since(start)
	if err == nil {
		c.observe(tokenOperation, http.StatusCreated, elapsed)
		c.logger.Debug("falcon token acquired", zap.Duration("duration", elapsed))
		return true, nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		c.observe(tokenOperation, status, elapsed)
		switch status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			c.logger.Debug("falcon token rejected", zap.Int("status", status))
			return false, nil
		}
		return false, NewTransportError(ErrorUnavailable, tokenOperation,
			fmt.Sprintf("token endpoint returned status %d", status), err)
	}

	c.observe(tokenOperation, 0, elapsed)
	return false, c.classify(ctx, tokenOperation, err)
}

// Invoke performs one operation. 429 answers are retried with exponential
// backoff up to MaxRetries times; the last 429 response is returned as is when
// retries run out.
func (c *Client) Invoke(ctx context.Context, op Operation, params Params) (*Response, error) {
	ep, ok := endpoints[op]
	if !ok {
		return nil, NewTransportError(ErrorInternal, op, "unknown operation", nil)
	}

	var resp *Response
	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(NewTransportError(ErrorRateLimited, op, "rate limiter wait aborted", err))
		}
		r, err := c.do(ctx, op, ep, params)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp = r
		if r.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("falcon api rate limited", zap.String("operation", string(op)))
			return errTooManyRequests
		}
		return nil
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.cfg.MaxRetries), ctx)
	err := backoff.Retry(attempt, schedule)
	switch {
	case err == nil, errors.Is(err, errTooManyRequests):
		return resp, nil
	case IsTransportError(err):
		return nil, err
	default:
		// The backoff schedule only fails on its own when ctx is done.
		return nil, c.classify(ctx, op, err)
	}
}

func (c *Client) do(ctx context.Context, op Operation, ep endpoint, params Params) (*Response, error) {
	target := c.cfg.BaseURL + ep.path
	if len(params.Query) > 0 {
		target += "?" + params.Query.Encode()
	}

	var body io.Reader
	if params.Body != nil {
		payload, err := json.Marshal(params.Body)
		if err != nil {
			return nil, NewTransportError(ErrorInternal, op, "failed to marshal request", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, ep.method, target, body)
	if err != nil {
		return nil, NewTransportError(ErrorInternal, op, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok, err := c.accessToken(ctx)
	if err != nil {
		return nil, c.classify(ctx, op, err)
	}
	tok.SetAuthHeader(req)

	start := time.Now()
	httpResp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(op, 0, elapsed)
		return nil, c.classify(ctx, op, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	c.observe(op, httpResp.StatusCode, elapsed)
	if err != nil {
		return nil, NewTransportError(ErrorBadData, op, "failed to read response", err)
	}

	resp := &Response{Operation: op, StatusCode: httpResp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &resp.Body); err != nil {
			return nil, NewTransportError(ErrorBadData, op,
				fmt.Sprintf("undecodable response (status %d)", httpResp.StatusCode), err)
		}
	}

	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.String("method", ep.method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
		zap.String("trace_id", resp.Body.Meta.TraceID),
	}
	if c.auth.Debug {
		fields = append(fields, zap.ByteString("body", truncate(raw, maxDebugBody)))
	}
	c.logger.Debug("falcon api request", fields...)

	return resp, nil
}

func (c *Client) classify(ctx context.Context, op Operation, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return NewTransportError(ErrorAuthentication, op, "token request failed", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return NewTransportError(ErrorCanceled, op, "request canceled", err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransportError(ErrorTimeout, op, "request timeout", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewTransportError(ErrorTimeout, op, "request timeout", err)
	}
	return NewTransportError(ErrorUnavailable, op, "failed to execute request", err)
}

func (c *Client) observe(op Operation, status int, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveAPIRequest(string(op), status, elapsed.Seconds())
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
