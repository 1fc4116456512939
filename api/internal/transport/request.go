package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
)

// Request is an outgoing call before it is turned into an *http.Request.
// Transforms may rewrite any field.
type Request struct {
	Method string
	// URL is absolute or relative to the client's base URL.
	URL    string
	Header http.Header

	// Body is sent verbatim when it is a string or []byte and JSON-encoded
	// otherwise.
	Body any

	// Params is the structured query set.
	Params map[string]any

	// Form, when set, makes this a multipart request and Body is ignored.
	Form *MultipartForm
}

// clone copies the fields transforms rewrite. Body and form file readers
// are shared.
func (r *Request) clone() *Request {
	out := *r
	if r.Header != nil {
		out.Header = r.Header.Clone()
	} else {
		out.Header = http.Header{}
	}
	if r.Params != nil {
		out.Params = make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	return &out
}

// MultipartForm is a binary/multipart body. It is never sealed.
type MultipartForm struct {
	Fields map[string]string
	Files  []FormFile
}

type FormFile struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Response is a received reply after the response transforms ran.
type Response struct {
	StatusCode int
	Header     http.Header
	// Body is the raw reply, or the decoded business payload once a
	// transform has replaced it.
	Body    []byte
	Request *Request
	// Decoded is set when Body was replaced by a decoded payload.
	Decoded bool
}

// Decode unmarshals the (possibly decoded) body into out.
func (r *Response) Decode(out any) error {
	return json.Unmarshal(r.Body, out)
}

// Envelope parses the body as {status, data, message}.
func (r *Response) Envelope() (*domain.Envelope, error) {
	return parseEnvelope(r.Body)
}

var errNotEnvelope = errors.New("body is not an envelope")

func parseEnvelope(body []byte) (*domain.Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errNotEnvelope
	}
	if _, ok := fields["data"]; !ok {
		if _, ok := fields["status"]; !ok {
			return nil, errNotEnvelope
		}
	}

	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errNotEnvelope, err)
	}
	return &env, nil
}

// HTTPError is a non-2xx reply, passed through untouched.
type HTTPError struct {
	StatusCode int
	Body       []byte
	// Envelope is set when the body parsed as an envelope.
	Envelope *domain.Envelope
}

func (e *HTTPError) Error() string {
	if e.Envelope != nil && e.Envelope.Message != "" {
		return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Envelope.Message)
	}
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

func newHTTPError(status int, body []byte) *HTTPError {
	httpErr := &HTTPError{StatusCode: status, Body: body}
	if env, err := parseEnvelope(body); err == nil {
		httpErr.Envelope = env
	}
	return httpErr
}
