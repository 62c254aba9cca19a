package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		wantField  string
	}{
		{"validation", apperr.New(apperr.Validation, "latitude_deg", "out of range"), http.StatusBadRequest, "validation", "latitude_deg"},
		{"stage not ready", apperr.New(apperr.StageNotReady, "calibration_fit", "no fit"), http.StatusConflict, "stage_not_ready", "calibration_fit"},
		{"insufficient", apperr.New(apperr.InsufficientData, "", "no points"), http.StatusUnprocessableEntity, "insufficient_data", ""},
		{"not found", apperr.New(apperr.NotFound, "", "session not found"), http.StatusNotFound, "not_found", ""},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body ErrorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Kind != tt.wantKind || body.Field != tt.wantField {
				t.Errorf("body = %+v, want kind %q field %q", body, tt.wantKind, tt.wantField)
			}
			if body.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"x": 1.5, "y": 2}`, false},
		{"empty", ``, true},
		{"malformed", `{"x":`, true},
		{"unknown field", `{"x": 1, "z": 3}`, true},
		{"trailing object", `{"x": 1} {"y": 2}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			var p point
			err := DecodeJSON(w, r, &p)
			if tt.wantErr {
				if !errors.Is(err, apperr.Validation) {
					t.Errorf("err = %v, want validation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if p.X != 1.5 || p.Y != 2 {
				t.Errorf("decoded %+v", p)
			}
		})
	}
}
