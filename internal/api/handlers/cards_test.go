package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/card-desk/internal/models"
	"github.com/codyseavey/card-desk/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubResolver struct {
	res       *services.Resolution
	err       error
	lastQuery models.CardQuery
	lastLimit int
}

func (s *stubResolver) Resolve(ctx context.Context, query models.CardQuery, limit int) (*services.Resolution, error) {
	s.lastQuery, s.lastLimit = query, limit
	return s.res, s.err
}

type stubIdentifier struct {
	enabled bool
	result  *services.IdentificationResult
	err     error
	got     []byte
}

func (s *stubIdentifier) IsEnabled() bool { return s.enabled }

func (s *stubIdentifier) IdentifyCard(ctx context.Context, image []byte) (*services.IdentificationResult, error) {
	s.got = image
	return s.result, s.err
}

func newCardRouter(h *CardHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/cards/resolve", h.ResolveCard)
	r.POST("/api/cards/identify", h.IdentifyCard)
	return r
}

func doJSON(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func matched() *services.Resolution {
	price := models.Cents(4500)
	return &services.Resolution{
		Status: services.StatusMatched,
		Source: models.SourcePrimaryCatalog,
		Cards: []models.CandidateCard{{
			ID: "swsh4-44", Name: "Pikachu VMAX", Price: &price, SourceTag: models.SourcePrimaryCatalog,
		}},
	}
}

func TestResolveCardStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		resolver   *stubResolver
		wantStatus int
		wantBody   string
	}{
		{"matched", &stubResolver{res: matched()}, http.StatusOK, `"status":"matched"`},
		{"no match", &stubResolver{res: &services.Resolution{Status: services.StatusNoSourceMatched, Cards: []models.CandidateCard{}}},
			http.StatusOK, `"status":"no_source_matched"`},
		{"empty name", &stubResolver{err: &services.ValidationError{Field: "name", Err: services.ErrEmptyCardName}},
			http.StatusBadRequest, "card name is required"},
		{"all sources failed", &stubResolver{err: &services.LookupFailedError{Warnings: []services.SourceWarning{
			{Source: models.SourceSheet, Kind: services.WarningTransient, Message: "down"},
		}}}, http.StatusBadGateway, `"error":"lookup_failed"`},
		{"timeout", &stubResolver{err: fmt.Errorf("interrupted: %w", context.DeadlineExceeded)},
			http.StatusGatewayTimeout, "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCardRouter(NewCardHandler(tt.resolver, nil))
			w := doJSON(r, http.MethodPost, "/api/cards/resolve", `{"name": "Pikachu VMAX", "set_name": "Vivid Voltage", "limit": 5}`)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if !bytes.Contains(w.Body.Bytes(), []byte(tt.wantBody)) {
				t.Errorf("expected body to contain %s, got %s", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestResolveCardPassesQuery(t *testing.T) {
	resolver := &stubResolver{res: matched()}
	r := newCardRouter(NewCardHandler(resolver, nil))

	w := doJSON(r, http.MethodPost, "/api/cards/resolve", `{"name": "Pikachu VMAX", "set_name": "Vivid Voltage", "language": "Japanese", "limit": 5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := models.CardQuery{Name: "Pikachu VMAX", SetName: "Vivid Voltage", Language: "Japanese"}
	if resolver.lastQuery != want || resolver.lastLimit != 5 {
		t.Errorf("resolver got %+v limit %d", resolver.lastQuery, resolver.lastLimit)
	}

	var body struct {
		Cards []models.CandidateCard `json:"cards"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Cards) != 1 || body.Cards[0].Price == nil || *body.Cards[0].Price != 4500 {
		t.Errorf("unexpected cards in response: %s", w.Body.String())
	}
}

func TestResolveCardBadJSON(t *testing.T) {
	r := newCardRouter(NewCardHandler(&stubResolver{}, nil))
	w := doJSON(r, http.MethodPost, "/api/cards/resolve", `{"name": `)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestIdentifyCard(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		r := newCardRouter(NewCardHandler(&stubResolver{}, &stubIdentifier{}))
		w := doJSON(r, http.MethodPost, "/api/cards/identify", `{"image": "aGVsbG8="}`)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", w.Code)
		}
	})

	t.Run("no image", func(t *testing.T) {
		r := newCardRouter(NewCardHandler(&stubResolver{}, &stubIdentifier{enabled: true}))
		w := doJSON(r, http.MethodPost, "/api/cards/identify", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unreadable card", func(t *testing.T) {
		identifier := &stubIdentifier{enabled: true, err: &services.AIIdentificationError{Reason: "no card name in image"}}
		r := newCardRouter(NewCardHandler(&stubResolver{}, identifier))
		w := doJSON(r, http.MethodPost, "/api/cards/identify", `{"image": "aGVsbG8="}`)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", w.Code)
		}
	})

	t.Run("vision service outage", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want int
		}{
			{"transient", &services.TransientError{Source: "gemini", Attempts: 5, StatusCode: 503}, http.StatusBadGateway},
			{"permanent", &services.PermanentError{Source: "gemini", StatusCode: 403}, http.StatusBadGateway},
			{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				identifier := &stubIdentifier{enabled: true, err: &services.AIIdentificationError{
					Reason: "vision service unavailable", Err: tt.err,
				}}
				r := newCardRouter(NewCardHandler(&stubResolver{}, identifier))
				w := doJSON(r, http.MethodPost, "/api/cards/identify", `{"image": "aGVsbG8="}`)
				if w.Code != tt.want {
					t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
				}
			})
		}
	})

	t.Run("identified and resolved", func(t *testing.T) {
		resolver := &stubResolver{res: matched()}
		identifier := &stubIdentifier{enabled: true, result: &services.IdentificationResult{
			CardName: "Pikachu VMAX", CanonicalNameEN: "Pikachu VMAX", SetName: "Vivid Voltage", ObservedLang: "English",
		}}
		r := newCardRouter(NewCardHandler(resolver, identifier))

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, _ := mw.CreateFormFile("image", "card.jpg")
		part.Write([]byte("\xff\xd8\xff photo"))
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/cards/identify", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if string(identifier.got) != "\xff\xd8\xff photo" {
			t.Errorf("identifier received %q", identifier.got)
		}
		if resolver.lastQuery.Name != "Pikachu VMAX" || resolver.lastQuery.SetName != "Vivid Voltage" {
			t.Errorf("unexpected resolver query %+v", resolver.lastQuery)
		}
		if !bytes.Contains(w.Body.Bytes(), []byte(`"identification"`)) {
			t.Errorf("expected identification in response: %s", w.Body.String())
		}
	})
}
