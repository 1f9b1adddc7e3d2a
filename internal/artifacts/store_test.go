package artifacts

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "final.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return NewStore(dir, nil)
}

func TestStore_Path(t *testing.T) {
	s := setupStore(t)

	tests := []struct {
		name    string
		wantErr bool
	}{
		{"final.mp4", false},
		{"clip.WEBM", false},
		{"", true},
		{"../secret.mp4", true},
		{"sub/final.mp4", true},
		{".hidden.mp4", true},
		{"notes.txt", true},
		{`a\b.mp4`, true},
	}

	for _, tt := range tests {
		_, err := s.Path(tt.name)
		if tt.wantErr && !errors.Is(err, ErrInvalidName) {
			t.Errorf("Path(%q): expected invalid name, got %v", tt.name, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Path(%q): unexpected error %v", tt.name, err)
		}
	}
}

func TestStore_ServeFull(t *testing.T) {
	s := setupStore(t)

	req := httptest.NewRequest(http.MethodGet, "/artifacts/final.mp4", nil)
	rec := httptest.NewRecorder()
	if err := s.Serve(rec, req, "final.mp4"); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("expected video/mp4, got %q", got)
	}
}

func TestStore_ServeRange(t *testing.T) {
	s := setupStore(t)

	tests := []struct {
		rangeHeader string
		wantStatus  int
		wantBody    string
		wantRange   string
	}{
		{"bytes=0-3", http.StatusPartialContent, "0123", "bytes 0-3/10"},
		{"bytes=5-", http.StatusPartialContent, "56789", "bytes 5-9/10"},
		{"bytes=-2", http.StatusPartialContent, "89", "bytes 8-9/10"},
		{"bytes=20-30", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
	}

	for _, tt := range tests {
		t.Run(tt.rangeHeader, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/artifacts/final.mp4", nil)
			req.Header.Set("Range", tt.rangeHeader)
			rec := httptest.NewRecorder()

			if err := s.Serve(rec, req, "final.mp4"); err != nil {
				t.Fatalf("Serve: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("expected Content-Range %q, got %q", tt.wantRange, got)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestStore_ServeMissing(t *testing.T) {
	s := setupStore(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/artifacts/missing.mp4", nil)
	if err := s.Serve(rec, req, "missing.mp4"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	if err := s.Serve(httptest.NewRecorder(), req, "../db.sqlite"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected invalid name, got %v", err)
	}
}
