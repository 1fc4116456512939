package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// EchoHandler reflects what the sealed middleware opened, so clients can
// check a round trip end to end.
type EchoHandler struct {
	respond *Responder
}

func NewEchoHandler(respond *Responder) *EchoHandler {
	return &EchoHandler{respond: respond}
}

// Query handles GET and DELETE /api/echo. Repeated keys come back as lists.
func (h *EchoHandler) Query(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{}
	for k, v := range r.URL.Query() {
		if len(v) == 1 {
			params[k] = v[0]
			continue
		}
		params[k] = v
	}
	h.respond.OK(w, params, "")
}

// Body handles POST, PUT and PATCH /api/echo.
func (h *EchoHandler) Body(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respond.Error(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.respond.Error(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	if len(raw) == 0 {
		h.respond.OK(w, nil, "")
		return
	}
	if !json.Valid(raw) {
		h.respond.Error(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	h.respond.OK(w, json.RawMessage(raw), "")
}
