package gemini

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thamizh-labs/palmscribe/internal/config"
	"github.com/thamizh-labs/palmscribe/internal/inference"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.GeminiSettings{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RestoreModel:   "image-model",
		AnalyzeModel:   "text-model",
		Timeout:        5 * time.Second,
		ThinkingBudget: 1024,
	})
}

func imageResponse(t *testing.T, mime string, payload []byte) []byte {
	t.Helper()
	resp := map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"parts": []any{map[string]any{
					"inlineData": map[string]any{
						"mimeType": mime,
						"data":     base64.StdEncoding.EncodeToString(payload),
					},
				}},
			},
		}},
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return b
}

func textResponse(t *testing.T, text string) []byte {
	t.Helper()
	resp := map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return b
}

func TestRestore_ExtractsImagePart(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write(imageResponse(t, "image/png", []byte("restored-bytes")))
	})

	out, err := c.Restore(t.Context(), inference.RestoreRequest{Image: []byte("leaf"), MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if out != manuscript.EncodeImage("image/png", []byte("restored-bytes")) {
		t.Fatalf("unexpected encoded image: %q", out)
	}
	if gotPath != "/v1beta/models/image-model:generateContent" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header missing, got %q", gotKey)
	}
	// Request carries the inline image and the restoration prompt.
	body, _ := json.Marshal(gotBody)
	if !strings.Contains(string(body), base64.StdEncoding.EncodeToString([]byte("leaf"))) {
		t.Fatalf("image payload missing in request")
	}
	if !strings.Contains(string(body), "Restore this ancient Tamil palm-leaf manuscript") {
		t.Fatalf("restoration prompt missing in request")
	}
}

func TestRestore_VariationAndInstructionPrompts(t *testing.T) {
	var prompts []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req generateContentRequest
		_ = json.Unmarshal(b, &req)
		for _, p := range req.Contents[0].Parts {
			if p.Text != "" {
				prompts = append(prompts, p.Text)
			}
		}
		_, _ = w.Write(imageResponse(t, "image/png", []byte("x")))
	})

	v := 42
	if _, err := c.Restore(t.Context(), inference.RestoreRequest{Image: []byte("a"), MimeType: "image/png", Variation: &v}); err != nil {
		t.Fatalf("Restore with variation: %v", err)
	}
	if _, err := c.Restore(t.Context(), inference.RestoreRequest{Image: []byte("a"), MimeType: "image/png", Instruction: "darken the ink"}); err != nil {
		t.Fatalf("Restore with instruction: %v", err)
	}
	if len(prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(prompts))
	}
	if !strings.Contains(prompts[0], "variation #42") {
		t.Fatalf("variation hint missing: %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "darken the ink") {
		t.Fatalf("instruction missing: %q", prompts[1])
	}
}

func TestRestore_NoImagePartMeansAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(textResponse(t, "cannot do that"))
	})
	out, err := c.Restore(t.Context(), inference.RestoreRequest{Image: []byte("a"), MimeType: "image/png"})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if out != "" {
		t.Fatalf("expected absent result, got %q", out)
	}
}

func TestAnalyze_ParsesSchemaResponse(t *testing.T) {
	analysis := manuscript.Analysis{
		Transcription: "நிலவே",
		Translation:   "O moon",
		RawOCR:        "raw glyphs",
		SourceInfo:    manuscript.SourceInfo{DetectedSource: "Unidentified", Section: "General text", BriefExplanation: "short poem"},
		RegionInfo:    &manuscript.RegionInfo{Region: "Madurai", Confidence: "low", Reasoning: "leaf preparation"},
	}
	payload, _ := json.Marshal(analysis)

	var req generateContentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &req)
		_, _ = w.Write(textResponse(t, string(payload)))
	})

	got, err := c.Analyze(t.Context(), []byte("leaf"), "image/jpeg")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Transcription != analysis.Transcription || got.Translation != analysis.Translation {
		t.Fatalf("analysis mismatch: %+v", got)
	}
	if got.RegionInfo == nil || got.RegionInfo.Region != "Madurai" {
		t.Fatalf("region info mismatch: %+v", got.RegionInfo)
	}

	// The request pins JSON output with the analysis schema and a thinking budget.
	if req.GenerationConfig == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("response mime not requested: %+v", req.GenerationConfig)
	}
	if req.GenerationConfig.ResponseSchema == nil {
		t.Fatalf("response schema missing")
	}
	if _, ok := req.GenerationConfig.ResponseSchema.Properties["sourceInfo"]; !ok {
		t.Fatalf("sourceInfo missing from schema")
	}
	if req.GenerationConfig.ThinkingConfig == nil || req.GenerationConfig.ThinkingConfig.ThinkingBudget != 1024 {
		t.Fatalf("thinking budget missing: %+v", req.GenerationConfig.ThinkingConfig)
	}
}

func TestAnalyze_EmptyResponseFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})
	if _, err := c.Analyze(t.Context(), []byte("a"), "image/png"); err == nil {
		t.Fatalf("expected error on empty response")
	}
}

func TestGenerate_ErrorStatusSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	})
	_, err := c.Analyze(t.Context(), []byte("a"), "image/png")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}
