package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
)

// SealedPayload opens sealed request bodies and raw-token query strings
// before handlers run. A sealed body is replaced by its decoded JSON; a
// sealed query is rewritten into a conventional one. Anything that fails to
// open is rejected with 400 and never reaches the handler.
func SealedPayload(codec domain.PayloadCodec, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !codec.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if looksSealed(r.URL.RawQuery) {
				query, err := openQuery(codec, r.URL.RawQuery)
				if err != nil {
					logger.Warn("Rejected sealed query", slog.String("path", r.URL.Path), slog.Any("error", err))
					writeError(w, http.StatusBadRequest, "Invalid encrypted query")
					return
				}
				r.URL.RawQuery = query
			}

			if carriesSealedBody(r) {
				raw, err := io.ReadAll(r.Body)
				if err != nil {
					var maxErr *http.MaxBytesError
					if errors.As(err, &maxErr) {
						writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
						return
					}
					logger.Warn("Unreadable request body", slog.String("path", r.URL.Path), slog.Any("error", err))
					writeError(w, http.StatusBadRequest, "Unreadable request body")
					return
				}
				r.Body.Close()

				if len(bytes.TrimSpace(raw)) > 0 {
					decoded, err := codec.DecryptPayload(unquote(raw))
					if err != nil {
						logger.Warn("Rejected sealed body", slog.String("path", r.URL.Path), slog.Any("error", err))
						writeError(w, http.StatusBadRequest, "Invalid encrypted payload")
						return
					}
					raw = decoded
					r.Header.Set("Content-Type", "application/json")
				}

				r.Body = io.NopCloser(bytes.NewReader(raw))
				r.ContentLength = int64(len(raw))
				r.Header.Set("Content-Length", strconv.Itoa(len(raw)))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// looksSealed reports whether q is a bare base64 token rather than a
// key=value query. Padding '=' may only appear at the end.
func looksSealed(q string) bool {
	trimmed := strings.TrimRight(q, "=")
	if trimmed == "" {
		return false
	}
	for _, c := range trimmed {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/':
		default:
			return false
		}
	}
	return true
}

func carriesSealedBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType != "multipart/form-data"
}

// unquote accepts the token either as raw text or as a JSON string literal.
func unquote(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 1 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func openQuery(codec domain.PayloadCodec, token string) (string, error) {
	decoded, err := codec.DecryptPayload(token)
	if err != nil {
		return "", err
	}

	var params map[string]any
	if err := json.Unmarshal(decoded, &params); err != nil {
		return "", fmt.Errorf("sealed query is not an object: %w", err)
	}

	values := url.Values{}
	for k, v := range params {
		switch vv := v.(type) {
		case []any:
			for _, item := range vv {
				values.Add(k, queryValue(item))
			}
		default:
			values.Add(k, queryValue(vv))
		}
	}
	return values.Encode(), nil
}

func queryValue(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(vv)
	default:
		raw, _ := json.Marshal(vv)
		return string(raw)
	}
}

// writeError replies with an unsealed {status:false, message} envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.Envelope{Status: false, Message: message})
}
