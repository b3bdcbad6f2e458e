package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		CodeEmptyContent:          http.StatusBadRequest,
		CodeInvalidTTL:            http.StatusBadRequest,
		CodeUnsupportedType:       http.StatusBadRequest,
		CodeTooLarge:              http.StatusRequestEntityTooLarge,
		CodeNotFound:              http.StatusNotFound,
		CodeStorageError:          http.StatusServiceUnavailable,
		CodeInternalInconsistency: http.StatusInternalServerError,
		"UNKNOWN_CODE":            http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := StatusFor(code); got != want {
			t.Errorf("StatusFor(%s): хотели %d, получили %d", code, want, got)
		}
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "объект не найден")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус: хотели 404, получили %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: хотели application/json, получили %s", ct)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("тело не JSON: %v", err)
	}
	if body.Error.Code != CodeNotFound || body.Error.Message != "объект не найден" {
		t.Errorf("неверное тело: %+v", body)
	}
}
