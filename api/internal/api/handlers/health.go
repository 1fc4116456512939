package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
)

var healthProbe = []byte(`{"probe":"health"}`)

type HealthHandler struct {
	codec domain.PayloadCodec
}

func NewHealthHandler(codec domain.PayloadCodec) *HealthHandler {
	return &HealthHandler{codec: codec}
}

// Check seals and reopens a probe value so a broken secret shows up as
// unhealthy rather than as 400s on every call.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	sealed, err := h.codec.EncryptPayload(json.RawMessage(healthProbe))
	if err == nil {
		var opened []byte
		opened, err = h.codec.DecryptPayload(sealed)
		if err == nil && !bytes.Equal(opened, healthProbe) {
			err = domain.ErrInvalidToken
		}
	}

	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unhealthy: payload codec self-test failed"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}
