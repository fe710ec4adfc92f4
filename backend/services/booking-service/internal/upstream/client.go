// Package upstream is the transport adapter for the railway site: a cookie-keeping HTTP client that
// presents itself as a desktop browser.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"railbook/backend/services/booking-service/internal/railerr"
)

const (
	// DefaultBaseURL is the production host.
	DefaultBaseURL = "https://kyfw.12306.cn"
	// DefaultUserAgent matches a current desktop Chrome.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultTimeout = 5 * time.Second

	// MaxResponseSize bounds body reads. Search results for busy routes are the largest payloads
	// and stay well under a megabyte.
	MaxResponseSize int64 = 8 << 20
)

// Doer issues one upstream request.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request describes an upstream call. Path is resolved against the client's base URL unless it is
// already absolute. A non-nil Form is sent as an urlencoded body.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Form    url.Values
	Headers map[string]string
}

// Get builds a GET request.
func Get(path string, query url.Values) *Request {
	return &Request{Method: http.MethodGet, Path: path, Query: query}
}

// PostForm builds a form POST request.
func PostForm(path string, form url.Values) *Request {
	if form == nil {
		form = url.Values{}
	}
	return &Request{Method: http.MethodPost, Path: path, Form: form}
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// DecodeJSON unmarshals the body into v. Non-JSON bodies (login redirects, maintenance pages)
// are reported as ErrUpstreamFormat.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return railerr.Format("decode json: %v (body starts %q)", err, snippet(r.Body))
	}
	return nil
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
}

// Client keeps one cookie jar for the lifetime of a user session.
type Client struct {
	base    *url.URL
	http    *http.Client
	jar     *cookiejar.Jar
	headers map[string]string
	logger  *zap.Logger
}

// NewClient builds a client with an empty cookie jar.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("upstream: base url must be absolute")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origin := base.Scheme + "://" + base.Host
	return &Client{
		base: base,
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		jar: jar,
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Referer":         origin + "/",
			"Origin":          origin,
			"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		},
		logger: logger,
	}, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do executes req. Transport failures, timeouts and HTTP status >= 400 match ErrTransientUpstream.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("upstream request failed", zap.String("method", method), zap.String("path", req.Path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %w", railerr.ErrTransientUpstream, method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", railerr.ErrTransientUpstream, req.Path, err)
	}

	c.logger.Debug("upstream request",
		zap.String("method", method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode >= http.StatusBadRequest {
		return out, railerr.Transient("%s %s returned status %d", method, req.Path, resp.StatusCode)
	}
	return out, nil
}

func (c *Client) resolve(req *Request) (string, error) {
	if req == nil || req.Path == "" {
		return "", errors.New("upstream: request path is empty")
	}
	ref, err := url.Parse(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("upstream: parse path %q: %w", req.Path, err)
	}
	u := c.base.ResolveReference(ref)
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func snippet(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) > 80 {
		body = body[:80]
	}
	return string(body)
}
