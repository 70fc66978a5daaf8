package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/metrics"
	"github.com/codyseavey/card-desk/internal/models"
)

const identificationCacheSize = 100

// GeminiService identifies a card from a photo with a single Gemini Vision call
type GeminiService struct {
	apiKey  string
	model   string
	baseURL string
	fetcher *Fetcher
	enabled bool

	// sha256(image) -> result, so re-uploading the same photo is free
	cache *lru.Cache[string, *IdentificationResult]
}

// IdentificationResult is what the vision model read off the card
type IdentificationResult struct {
	CardName        string  `json:"card_name"`                   // as printed, may be non-English
	CanonicalNameEN string  `json:"canonical_name_en"`           // English name for catalog lookup
	SetName         string  `json:"set_name"`                    // empty when not legible
	Number          string  `json:"card_number"`                 // e.g. "44/185"
	ObservedLang    string  `json:"observed_language,omitempty"` // e.g. "Japanese"
	Condition       string  `json:"condition,omitempty"`         // NM, LP, ... best guess from the photo
	IsFoil          bool    `json:"is_foil"`
	Confidence      float64 `json:"confidence"` // 0-1
	Reasoning       string  `json:"reasoning"`
}

// ToQuery converts the identification into a resolution query, preferring the English name
func (r *IdentificationResult) ToQuery() models.CardQuery {
	name := strings.TrimSpace(r.CanonicalNameEN)
	if name == "" {
		name = strings.TrimSpace(r.CardName)
	}
	return models.CardQuery{
		Name:      name,
		SetName:   strings.TrimSpace(r.SetName),
		Language:  string(models.NormalizeLanguage(r.ObservedLang)),
		Condition: strings.TrimSpace(r.Condition),
	}
}

func NewGeminiService(cfg config.GeminiConfig, fetcher *Fetcher) *GeminiService {
	cache, err := lru.New[string, *IdentificationResult](identificationCacheSize)
	if err != nil {
		log.Printf("Failed to create identification cache: %v", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	svc := &GeminiService{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fetcher: fetcher,
		enabled: cfg.APIKey != "",
		cache:   cache,
	}

	if svc.enabled {
		log.Printf("Gemini service: enabled (model=%s)", model)
	} else {
		log.Printf("Gemini service: disabled (no GOOGLE_API_KEY)")
	}
	return svc
}

// IsEnabled returns whether Gemini is available
func (s *GeminiService) IsEnabled() bool {
	return s != nil && s.enabled
}

// detectMimeType returns the MIME type for image bytes
func detectMimeType(data []byte) string {
	contentType := http.DetectContentType(data)
	// non-image or unknown: assume a camera jpeg
	if !strings.HasPrefix(contentType, "image/") {
		return "image/jpeg"
	}
	return contentType
}

// IdentifyCard asks Gemini to read the card in the photo. Any failure to get a
// usable card name is returned as *AIIdentificationError.
func (s *GeminiService) IdentifyCard(ctx context.Context, imageBytes []byte) (*IdentificationResult, error) {
	if !s.enabled {
		return nil, &AIIdentificationError{Reason: "vision service not configured"}
	}
	if len(imageBytes) == 0 {
		return nil, &AIIdentificationError{Reason: "empty image"}
	}

	sum := sha256.Sum256(imageBytes)
	key := hex.EncodeToString(sum[:])
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			log.Printf("[Gemini] cache hit for image %s", key[:12])
			return cached, nil
		}
	}

	metrics.GeminiRequestsTotal.Inc()
	start := time.Now()
	text, err := s.generate(ctx, imageBytes)
	metrics.GeminiAPILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	result, err := parseIdentificationResult(text)
	if err != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("parse").Inc()
		return nil, &AIIdentificationError{Reason: "unreadable model output", Err: err}
	}
	if result.ToQuery().Name == "" {
		metrics.GeminiErrorsTotal.WithLabelValues("no_name").Inc()
		return nil, &AIIdentificationError{Reason: "no card name in image"}
	}

	log.Printf("[Gemini] identified %q (set=%q, lang=%q, confidence=%.2f)",
		result.CardName, result.SetName, result.ObservedLang, result.Confidence)

	if s.cache != nil {
		s.cache.Add(key, result)
	}
	return result, nil
}

func (s *GeminiService) generate(ctx context.Context, imageBytes []byte) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: identificationPrompt},
				{InlineData: &geminiInlineData{
					MimeType: detectMimeType(imageBytes),
					Data:     base64.StdEncoding.EncodeToString(imageBytes),
				}},
			},
		}},
		GenerationConfig: geminiGenConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.1,
			MaxOutputTokens:  1024,
		},
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", s.baseURL, s.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.fetcher.FetchWithRetry(ctx, httpReq)
	if err != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("api").Inc()
		return "", &AIIdentificationError{Reason: "vision service unavailable", Err: err}
	}

	var apiResp geminiAPIResponse
	if err := json.Unmarshal(resp.Body, &apiResp); err != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("parse").Inc()
		return "", &AIIdentificationError{Reason: "malformed API response", Err: err}
	}
	if apiResp.Error != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("api").Inc()
		return "", &AIIdentificationError{Reason: "vision service error",
			Err: fmt.Errorf("API error %d: %s", apiResp.Error.Code, apiResp.Error.Message)}
	}
	if len(apiResp.Candidates) == 0 {
		metrics.GeminiErrorsTotal.WithLabelValues("empty").Inc()
		return "", &AIIdentificationError{Reason: "no response from model"}
	}

	var text strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func parseIdentificationResult(text string) (*IdentificationResult, error) {
	text = strings.TrimSpace(text)

	// Handle markdown code blocks
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}

	var result IdentificationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w (text: %s)", err, truncate(text, 200))
	}
	return &result, nil
}

// Gemini API types

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
}

type geminiAPIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const identificationPrompt = `You are a Pokémon trading card identification expert. The image is a photo of a single card taken by a shop employee.

Read the card and answer with ONLY a JSON object:
{
  "card_name": "name exactly as printed on the card",
  "canonical_name_en": "official English card name, including suffixes such as V, VMAX, ex, GX",
  "set_name": "English set name if you can tell from the set symbol or card number, otherwise empty",
  "card_number": "collector number as printed, e.g. 44/185",
  "observed_language": "language printed on the card, e.g. English, Japanese, German",
  "condition": "best guess from the photo: NM, LP, MP, HP or DMG",
  "is_foil": true or false,
  "confidence": 0.0 to 1.0,
  "reasoning": "one sentence"
}

Rules:
- If no card is visible or the name cannot be read, return an empty card_name and canonical_name_en.
- Never invent a set name; leave it empty when unsure.
- Use straight apostrophes.`
