package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/card-desk/internal/models"
	"github.com/codyseavey/card-desk/internal/services"
)

// maxImageBytes bounds uploaded card photos
const maxImageBytes = 10 << 20

// CardResolver is the resolution entry point used by the handlers
type CardResolver interface {
	Resolve(ctx context.Context, query models.CardQuery, limit int) (*services.Resolution, error)
}

// CardIdentifier reads a card name off a photo
type CardIdentifier interface {
	IsEnabled() bool
	IdentifyCard(ctx context.Context, imageBytes []byte) (*services.IdentificationResult, error)
}

type CardHandler struct {
	resolver   CardResolver
	identifier CardIdentifier
}

func NewCardHandler(resolver CardResolver, identifier CardIdentifier) *CardHandler {
	return &CardHandler{
		resolver:   resolver,
		identifier: identifier,
	}
}

type resolveRequest struct {
	models.CardQuery
	Limit int `json:"limit"`
}

// ResolveCard runs a manually entered query through the source chain
func (h *CardHandler) ResolveCard(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), req.CardQuery, req.Limit)
	if err != nil {
		writeResolutionError(c, err)
		return
	}

	c.JSON(http.StatusOK, resolutionResponse(res))
}

// IdentifyCard reads the card in an uploaded photo with the vision service
// and resolves the result. Accepts a multipart "image" file or a JSON body
// with a base64 "image" field.
func (h *CardHandler) IdentifyCard(c *gin.Context) {
	if h.identifier == nil || !h.identifier.IsEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Card identification is not available",
			"message": "Gemini API key not configured",
		})
		return
	}

	imageBytes, ok := readImage(c)
	if !ok {
		return
	}

	result, err := h.identifier.IdentifyCard(c.Request.Context(), imageBytes)
	if err != nil {
		log.Printf("Gemini identification failed: %v", err)
		writeIdentificationError(c, err)
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), result.ToQuery(), 0)
	if err != nil {
		writeResolutionError(c, err)
		return
	}

	response := resolutionResponse(res)
	response["identification"] = result
	c.JSON(http.StatusOK, response)
}

// writeIdentificationError tells the admin whether to retry (upstream trouble)
// or enter the card manually (the photo could not be read).
func writeIdentificationError(c *gin.Context, err error) {
	var transient *services.TransientError
	var permanent *services.PermanentError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "Card identification timed out",
			"message": "The vision service did not answer in time; please retry",
		})
	case errors.As(err, &transient), errors.As(err, &permanent):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Card identification service unavailable",
			"message": "The vision service could not be reached; retry or enter the card manually",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Card identification failed",
			"message": "Could not read the card name from the photo; enter it manually",
			"details": err.Error(),
		})
	}
}

func readImage(c *gin.Context) ([]byte, bool) {
	if file, err := c.FormFile("image"); err == nil {
		if file.Size > maxImageBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
			return nil, false
		}
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open uploaded file"})
			return nil, false
		}
		defer src.Close()

		var buf bytes.Buffer
		if _, err := buf.ReadFrom(src); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return nil, false
		}
		return buf.Bytes(), true
	}

	var req struct {
		Image string `json:"image"` // Base64 encoded image
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "No image provided",
			"message": "Upload an image file or provide base64 encoded image in JSON body",
		})
		return nil, false
	}

	imageBytes, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid base64 image data"})
		return nil, false
	}
	if len(imageBytes) > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
		return nil, false
	}
	return imageBytes, true
}

func resolutionResponse(res *services.Resolution) gin.H {
	response := gin.H{
		"status":      res.Status,
		"source":      res.Source,
		"query":       res.Query,
		"cards":       res.Cards,
		"total_count": len(res.Cards),
		"warnings":    res.Warnings,
		"attempts":    res.Attempts,
	}
	if res.Status == services.StatusNoSourceMatched {
		response["message"] = "No catalog matched this card; enter it manually"
	}
	return response
}

func writeResolutionError(c *gin.Context, err error) {
	var validation *services.ValidationError
	var failed *services.LookupFailedError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &failed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "lookup_failed",
			"message":  "All card sources failed; retry later or enter the card manually",
			"warnings": failed.Warnings,
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "card lookup timed out"})
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	default:
		log.Printf("Card resolution failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
