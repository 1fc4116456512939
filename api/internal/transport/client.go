package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Client sends Requests through a Pipeline to a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pipeline   *Pipeline
	logger     *slog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client (timeouts included).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithPipeline(p *Pipeline) ClientOption {
	return func(c *Client) { c.pipeline = p }
}

func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		pipeline:   &Pipeline{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Get(ctx context.Context, path string, params map[string]any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: path, Params: params})
}

func (c *Client) Delete(ctx context.Context, path string, params map[string]any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, URL: path, Params: params})
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, URL: path, Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, URL: path, Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, URL: path, Body: body})
}

// Do runs the request stage, sends the call, and runs the response stage on
// 2xx replies. Non-2xx replies come back as *HTTPError with the body as
// received. The transforms work on a copy, so the caller may retry with the
// same *Request.
func (c *Client) Do(ctx context.Context, callerReq *Request) (*Response, error) {
	req := callerReq.clone()
	req.Method = strings.ToUpper(req.Method)

	if err := c.pipeline.transformRequest(ctx, req); err != nil {
		return nil, err
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, httpReq.URL.Path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: reading response: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Request:    req,
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		httpErr := newHTTPError(httpResp.StatusCode, body)
		c.logger.Warn("API error",
			slog.String("method", req.Method),
			slog.String("path", httpReq.URL.Path),
			slog.Int("status", httpResp.StatusCode),
		)
		return nil, httpErr
	}

	if err := c.pipeline.transformResponse(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// resolveURL joins a relative path onto the base URL. Absolute URLs pass
// through; slashes are collapsed at the seam.
func (c *Client) resolveURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	if raw == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(raw, "/")
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	target := c.resolveURL(req.URL)
	if len(req.Params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + encodeParams(req.Params)
	}

	body, contentType, err := buildBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("transport: building request: %w", err)
	}

	httpReq.Header = req.Header.Clone()
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	}
	return httpReq, nil
}

func buildBody(req *Request) (io.Reader, string, error) {
	if req.Form != nil {
		return buildMultipart(req.Form)
	}

	switch b := req.Body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "text/plain; charset=utf-8", nil
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(b); err != nil {
			return nil, "", fmt.Errorf("transport: encoding body: %w", err)
		}
		return bytes.NewReader(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), "application/json", nil
	}
}

func buildMultipart(form *MultipartForm) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(form.Fields))
	for k := range form.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, form.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("transport: multipart field %s: %w", k, err)
		}
	}

	for _, f := range form.Files {
		if f.Content == nil {
			return nil, "", errors.New("transport: multipart file has no content")
		}
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("transport: multipart file %s: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("transport: multipart file %s: %w", f.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("transport: multipart close: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// encodeParams renders the structured query set conventionally; slices
// become repeated keys.
func encodeParams(params map[string]any) string {
	values := url.Values{}
	for k, v := range params {
		switch vv := v.(type) {
		case []string:
			for _, s := range vv {
				values.Add(k, s)
			}
		case []any:
			for _, s := range vv {
				values.Add(k, fmt.Sprint(s))
			}
		case nil:
			values.Add(k, "")
		default:
			values.Add(k, fmt.Sprint(vv))
		}
	}
	return values.Encode()
}
