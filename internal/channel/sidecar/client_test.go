package sidecar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendText(t *testing.T) {
	got := make(chan SendTextRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/send/text", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		var body SendTextRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
		_ = json.NewEncoder(w).Encode(SendResponse{Success: true})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("s3cret"))
	require.NoError(t, c.SendText(context.Background(), "919322612069", "hello"))
	assert.Equal(t, SendTextRequest{To: "+919322612069", Text: "hello"}, <-got)
}

func TestSendTextFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"reported failure", http.StatusOK, `{"success":false,"error":"number not on whatsapp"}`, "sidecar: send failed: number not on whatsapp"},
		{"server error json", http.StatusBadGateway, `{"success":false}`, "sidecar: send failed: Bad Gateway"},
		{"server error text", http.StatusInternalServerError, "boom", "sidecar: send failed with status 500: boom"},
		{"garbage ok", http.StatusOK, "<html>", "sidecar: decode response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			err := New(srv.URL).SendText(context.Background(), "919322612069", "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSendTextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := New(srv.URL, WithTimeout(50*time.Millisecond)).SendText(context.Background(), "919322612069", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestSendImageUploadsFile(t *testing.T) {
	img := filepath.Join(t.TempDir(), "promo.png")
	require.NoError(t, os.WriteFile(img, []byte("PNGDATA"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send/image", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "+919322612069", r.FormValue("to"))
		assert.Equal(t, "sale today", r.FormValue("caption"))
		f, hdr, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "promo.png", hdr.Filename)
		assert.Equal(t, "PNGDATA", string(b))
		_ = json.NewEncoder(w).Encode(SendResponse{Success: true})
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).SendImage(context.Background(), "919322612069", img, "sale today"))

	err := New(srv.URL).SendImage(context.Background(), "919322612069", filepath.Join(t.TempDir(), "missing.png"), "")
	assert.ErrorContains(t, err, "open image")
}

func TestHealth(t *testing.T) {
	var mu sync.Mutex
	state := HealthResponse{Status: "ok", BrowserReady: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(state)
	}))
	defer srv.Close()

	c := New(srv.URL, WithName("s1"))
	assert.Equal(t, "s1", c.Name())
	require.NoError(t, c.Health(context.Background()))

	mu.Lock()
	state = HealthResponse{Status: "degraded", BrowserReady: true}
	mu.Unlock()
	assert.ErrorContains(t, c.Health(context.Background()), "not ready")
	require.NoError(t, c.Close(context.Background()))
}
