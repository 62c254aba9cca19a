package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

// MaxBodyBytes caps request bodies decoded by DecodeJSON.
const MaxBodyBytes = 64 << 10

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code and writes the error envelope.
func WriteError(w http.ResponseWriter, err error) {
	body := ErrorBody{Error: err.Error(), Field: apperr.FieldOf(err)}
	if k := apperr.KindOf(err); k != "" {
		body.Kind = string(k)
	}
	WriteJSON(w, apperr.HTTPStatus(err), body)
}

// DecodeJSON decodes a single JSON object from the request body into v.
// Unknown fields and trailing data are rejected as validation errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.Validation, "", "request body is empty")
		}
		return apperr.Wrap(apperr.Validation, "", err, "malformed request body")
	}
	if dec.More() {
		return apperr.New(apperr.Validation, "", "unexpected data after JSON object")
	}
	return nil
}

// NotFound writes a 404 error envelope.
func NotFound(w http.ResponseWriter, what string) {
	WriteError(w, apperr.New(apperr.NotFound, "", "%s not found", what))
}
