package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
)

var validate = validator.New()

// Responder writes {status, data, message} envelopes. When the codec is
// enabled the data field is sealed and the marker header is set.
type Responder struct {
	codec  domain.PayloadCodec
	logger *slog.Logger
}

func NewResponder(codec domain.PayloadCodec, logger *slog.Logger) *Responder {
	return &Responder{codec: codec, logger: logger}
}

// OK writes a 200 envelope with status true.
func (rs *Responder) OK(w http.ResponseWriter, data any, message string) {
	rs.JSON(w, http.StatusOK, true, data, message)
}

// JSON writes an envelope. A nil data omits the field.
func (rs *Responder) JSON(w http.ResponseWriter, code int, status bool, data any, message string) {
	env := domain.Envelope{Status: status, Message: message}

	if data != nil {
		encoded, err := rs.codec.EncryptPayload(data)
		if err != nil {
			rs.logger.Error("Response encryption error", slog.Any("error", err))
			rs.Error(w, http.StatusInternalServerError, "Failed to encode response")
			return
		}

		if rs.codec.Enabled() {
			quoted, err := json.Marshal(encoded)
			if err != nil {
				rs.Error(w, http.StatusInternalServerError, "Failed to encode response")
				return
			}
			env.Data = quoted
			w.Header().Set(domain.PayloadEncodingHeader, domain.PayloadEncodingFernet)
		} else {
			// Disabled codecs hand back the JSON text itself.
			env.Data = json.RawMessage(encoded)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(env)
}

// Error writes an unsealed failure envelope.
func (rs *Responder) Error(w http.ResponseWriter, code int, message string) {
	w.Header().Del(domain.PayloadEncodingHeader)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(domain.Envelope{Status: false, Message: message})
}

// decodeJSON reads the (already opened) request body into dst and validates it.
func (rs *Responder) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			rs.Error(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		rs.Error(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			rs.Error(w, http.StatusUnprocessableEntity, fieldErrs[0].Field()+" failed "+fieldErrs[0].Tag()+" validation")
			return false
		}
		rs.Error(w, http.StatusUnprocessableEntity, "Validation failed")
		return false
	}
	return true
}
