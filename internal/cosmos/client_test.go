package cosmos

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseCompletionMarker(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantCode int
		wantOK   bool
	}{
		{"clean exit", "uploading...\n[COSMOS_COMPLETE] exit_code=0\n", 0, true},
		{"failure exit", "[COSMOS_COMPLETE] exit_code=137", 137, true},
		{"last marker wins", "[COSMOS_COMPLETE] exit_code=1\nretrying\n[COSMOS_COMPLETE] exit_code=0", 0, true},
		{"marker mid line", "2026-01-01 12:00:00 [COSMOS_COMPLETE] exit_code=2 done", 2, true},
		{"no marker", "still running\nprogress 50%", 0, false},
		{"marker without code", "[COSMOS_COMPLETE] done", 0, false},
		{"garbage code", "[COSMOS_COMPLETE] exit_code=oops", 0, false},
		{"empty", "", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, ok := ParseCompletionMarker(tc.text)
			if code != tc.wantCode || ok != tc.wantOK {
				t.Errorf("ParseCompletionMarker(%q) = %d,%v, want %d,%v", tc.text, code, ok, tc.wantCode, tc.wantOK)
			}
		})
	}
}

func TestOfflineClient(t *testing.T) {
	c := NewClient(Options{})
	ctx := context.Background()

	res, err := c.QuickInference(ctx, QuickInferenceRequest{PromptID: "ps_1"})
	if err != nil {
		t.Fatalf("QuickInference: %v", err)
	}
	if res.Status != "completed" || !strings.Contains(res.OutputPath, "ps_1") {
		t.Errorf("result = %+v, want completed with prompt-scoped path", res)
	}

	enh, err := c.EnhancePrompt(ctx, EnhanceRequest{PromptID: "ps_1", PromptText: "a misty valley"})
	if err != nil {
		t.Fatalf("EnhancePrompt: %v", err)
	}
	if !strings.HasPrefix(enh.EnhancedText, "A Misty Valley") {
		t.Errorf("EnhancedText = %q, want title-cased source text", enh.EnhancedText)
	}

	containers, err := c.GetActiveContainers(ctx)
	if err != nil || len(containers) != 0 {
		t.Errorf("GetActiveContainers = %v,%v, want none", containers, err)
	}

	up, err := c.Upscale(ctx, UpscaleRequest{VideoPath: "renders/a/b.mp4"})
	if err != nil {
		t.Fatalf("Upscale: %v", err)
	}
	if strings.Contains(up.OutputPath, "renders/a") {
		t.Errorf("OutputPath = %q, path separators must be sanitized", up.OutputPath)
	}
}

func TestClientQuickInferenceHTTP(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference/quick" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"Status": "completed", "OutputPath": "remote/video.mp4"})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "secret"})
	res, err := c.QuickInference(context.Background(), QuickInferenceRequest{
		PromptID: "ps_1",
		Weights:  map[string]float64{"edge": 0.5},
		Steps:    35,
	})
	if err != nil {
		t.Fatalf("QuickInference: %v", err)
	}
	if res.OutputPath != "remote/video.mp4" {
		t.Errorf("OutputPath = %q, want remote path", res.OutputPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody["prompt_id"] != "ps_1" {
		t.Errorf("body = %v, want prompt_id ps_1", gotBody)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gpu host on fire", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.QuickInference(context.Background(), QuickInferenceRequest{PromptID: "ps_1"})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status code in message", err)
	}
}

func TestClientLogsRequestFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of vram", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c := NewClient(Options{BaseURL: srv.URL, Logger: &logger})

	if _, err := c.QuickInference(context.Background(), QuickInferenceRequest{PromptID: "ps_1"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
	logged := buf.String()
	if !strings.Contains(logged, "request failed") || !strings.Contains(logged, "/inference/quick") {
		t.Errorf("log output = %q, want failure line with request path", logged)
	}
}

func TestClientReadCompletionMarkerHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logs" || r.URL.Query().Get("path") != "logs/run.log" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "working\n[COSMOS_COMPLETE] exit_code=3\n"})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	code, found, err := c.ReadCompletionMarker(context.Background(), "logs/run.log")
	if err != nil {
		t.Fatalf("ReadCompletionMarker: %v", err)
	}
	if !found || code != 3 {
		t.Errorf("marker = %d,%v, want 3,true", code, found)
	}
}
