package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thamizh-labs/palmscribe/internal/config"
	"github.com/thamizh-labs/palmscribe/internal/inference"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
)

var (
	_ inference.Restorer = (*Client)(nil)
	_ inference.Analyzer = (*Client)(nil)
)

const (
	headerContentType = "Content-Type"
	headerAPIKey      = "x-goog-api-key"

	generateContentSuffix = ":generateContent"
	apiPathPrefix         = "v1beta/models"

	defaultTimeout    = 2 * time.Minute
	errorSnippetLimit = 400

	restoredImageMime = "image/png"

	restorePrompt = "Restore this ancient Tamil palm-leaf manuscript. Repair cracks and physical damage. " +
		"Significantly enhance the faded ink to make it sharp, black, and highly legible against the leaf texture. " +
		"Reduce image noise and artifacts to ensure a clean, high-contrast, and historically accurate appearance. " +
		"The goal is to make the script as readable as possible while preserving the authentic look of the palm leaf. " +
		"Return only the restored image."

	analyzePrompt = "Analyze this ancient Tamil palm-leaf manuscript. " +
		"1. Extract the raw text characters exactly as they appear on the leaf (Raw OCR). " +
		"2. Transcribe the visible ancient Tamil script into clear, modern Tamil text. " +
		"3. Translate the Tamil text into English with high accuracy, preserving the cultural, historical, and contextual meaning. " +
		"If the text is poetic or philosophical, maintain the tone; prioritize clarity and faithfulness over literal rendering. " +
		"4. Identify the literary source of the text. If it is from a known Tamil literary work (e.g., Kamba Ramayanam, Thirukkural, " +
		"Silappathikaram, Thevaram), specify the work's name, the specific section/verse location, and a brief explanation of the context. " +
		"If the source is unknown or generic, state 'Unidentified' or 'General text'. " +
		"5. If the script style, leaf preparation, or language features suggest a geographic region of origin, name the region with a " +
		"confidence level and your reasoning. " +
		"Provide the output in JSON format."
)

// Client calls the Gemini REST API (API-key generateContent endpoint) for both
// image restoration and text analysis.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	restoreModel string
	analyzeModel string
	thinking     int
}

// New creates a new Gemini inference client.
func New(cfg config.GeminiSettings) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		restoreModel: cfg.RestoreModel,
		analyzeModel: cfg.AnalyzeModel,
		thinking:     cfg.ThinkingBudget,
	}
}

// Restore asks the image model to repair the manuscript. A variation hint or
// edit instruction, when present, is appended to the prompt. Returns an
// encoded image, or "" when the model produced no image part.
func (c *Client) Restore(ctx context.Context, req inference.RestoreRequest) (string, error) {
	prompt := restorePrompt
	switch {
	case req.Instruction != "":
		prompt += " Apply this additional instruction: " + req.Instruction
	case req.Variation != nil:
		prompt += fmt.Sprintf(" Generate variation #%d of the restoration.", *req.Variation)
	}

	body := generateContentRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MimeType: fallbackMime(req.MimeType), Data: base64.StdEncoding.EncodeToString(req.Image)}},
				{Text: prompt},
			},
		}},
	}

	resp, err := c.generate(ctx, c.restoreModel, body)
	if err != nil {
		return "", fmt.Errorf("restore image: %w", err)
	}
	for _, p := range resp.parts() {
		if p.InlineData != nil && p.InlineData.Data != "" {
			raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return "", fmt.Errorf("decode restored image: %w", err)
			}
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = restoredImageMime
			}
			return manuscript.EncodeImage(mime, raw), nil
		}
	}
	return "", nil
}

// Analyze asks the text model for a schema-constrained JSON analysis.
func (c *Client) Analyze(ctx context.Context, image []byte, mimeType string) (*manuscript.Analysis, error) {
	body := generateContentRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MimeType: fallbackMime(mimeType), Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: analyzePrompt},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   analysisSchema(),
		},
	}
	if c.thinking > 0 {
		body.GenerationConfig.ThinkingConfig = &thinkingConfig{ThinkingBudget: c.thinking}
	}

	resp, err := c.generate(ctx, c.analyzeModel, body)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	text := resp.text()
	if text == "" {
		return nil, fmt.Errorf("empty analysis response")
	}
	var a manuscript.Analysis
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	return &a, nil
}

func (c *Client) generate(ctx context.Context, model string, body generateContentRequest) (*generateContentResponse, error) {
	u, err := url.JoinPath(c.baseURL, apiPathPrefix, model+generateContentSuffix)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, "application/json")
	req.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var out generateContentResponse
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

func fallbackMime(mime string) string {
	if strings.TrimSpace(mime) == "" {
		return "image/jpeg"
	}
	return mime
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Gemini generateContent request/response types

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema         `json:"responseSchema,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

func (r *generateContentResponse) parts() []part {
	if len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].Content.Parts
}

func (r *generateContentResponse) text() string {
	for _, p := range r.parts() {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

func analysisSchema() *schema {
	return &schema{
		Type: "object",
		Properties: map[string]*schema{
			"rawOCR": {
				Type:        "string",
				Description: "The raw text characters extracted exactly as they appear on the leaf.",
			},
			"transcription": {
				Type:        "string",
				Description: "The transcribed text in modern Tamil script.",
			},
			"translation": {
				Type:        "string",
				Description: "The English translation of the transcribed text.",
			},
			"sourceInfo": {
				Type: "object",
				Properties: map[string]*schema{
					"detectedSource": {
						Type:        "string",
						Description: "The name of the identified literary work (e.g., Kamba Ramayanam) or 'Unidentified'.",
					},
					"section": {
						Type:        "string",
						Description: "The specific chapter, canto, or verse number (e.g., Bala Kandam, Verse 12).",
					},
					"briefExplanation": {
						Type:        "string",
						Description: "A short context about this specific passage or why it was identified as such.",
					},
				},
				Required: []string{"detectedSource", "section", "briefExplanation"},
			},
			"regionInfo": {
				Type: "object",
				Properties: map[string]*schema{
					"region": {
						Type:        "string",
						Description: "The likely geographic region of origin.",
					},
					"confidence": {
						Type:        "string",
						Description: "Confidence in the region guess (e.g., low, medium, high).",
					},
					"reasoning": {
						Type:        "string",
						Description: "Why the script or material suggests this region.",
					},
				},
				Required: []string{"region", "confidence", "reasoning"},
			},
		},
		Required: []string{"rawOCR", "transcription", "translation", "sourceInfo"},
	}
}
