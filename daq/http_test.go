package daq

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPAcquire(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	h := NewHTTPWrapper(d, nil)
	body := strings.NewReader(`{"channel": 0, "period": 1e-6, "samples": 3}`)
	req := httptest.NewRequest(http.MethodPost, "/acquire", body)
	w := httptest.NewRecorder()
	h.HTTPAcquire(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp samplesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Samples) != 3 {
		t.Errorf("expected 3 samples, got %d", len(resp.Samples))
	}
}

func TestHTTPGenerateBadRangeIsClientError(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	h := NewHTTPWrapper(d, nil)
	body := strings.NewReader(`{"channels": [0, 1], "period": 1e-6, "data": [[20, 0]]}`)
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	w := httptest.NewRecorder()
	h.HTTPGenerate(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unsatisfiable voltage swing, got %d", w.Code)
	}
}

func TestHTTPRaster(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	h := NewHTTPWrapper(d, nil)
	body := strings.NewReader(`{"period": 1e-6, "rows": 2, "cols": 2, "limits": [[-5, 5], [-5, 5]]}`)
	req := httptest.NewRequest(http.MethodPost, "/raster", body)
	w := httptest.NewRecorder()
	h.HTTPRaster(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHTTPRasterRejectsBadGrid(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	h := NewHTTPWrapper(d, nil)
	body := strings.NewReader(`{"period": 1e-6, "rows": 0, "cols": 2, "limits": [[-5, 5], [-5, 5]]}`)
	req := httptest.NewRequest(http.MethodPost, "/raster", body)
	w := httptest.NewRecorder()
	h.HTTPRaster(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a zero-row grid, got %d", w.Code)
	}
}

func TestHTTPFrame(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	h := NewHTTPWrapper(d, nil)
	body := strings.NewReader(`{"channel": 0, "period": 1e-6, "rows": 2, "cols": 3}`)
	req := httptest.NewRequest(http.MethodPost, "/frame", body)
	w := httptest.NewRecorder()
	h.HTTPFrame(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/fits" {
		t.Errorf("expected FITS content type, got %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "SIMPLE") {
		t.Error("expected the body to begin with a FITS primary header")
	}
}

func TestHTTPVersion(t *testing.T) {
	d := newTestDAQ(t, NewMockCard())
	h := NewHTTPWrapper(d, nil)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	w := httptest.NewRecorder()
	h.HTTPVersion(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "mock") {
		t.Errorf("expected the driver name in the version payload, got %q", w.Body.String())
	}
}
