package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/card-desk/internal/services"
)

type SourceHandler struct {
	sources []services.CardSource
}

func NewSourceHandler(sources []services.CardSource) *SourceHandler {
	return &SourceHandler{
		sources: sources,
	}
}

// GetSourceStatus lists the source chain in priority order with quota state
func (h *SourceHandler) GetSourceStatus(c *gin.Context) {
	statuses := make([]services.SourceStatus, 0, len(h.sources))
	for _, src := range h.sources {
		status := services.SourceStatus{Tag: src.Tag(), Name: string(src.Tag()), Configured: true}
		if reporter, ok := src.(services.StatusReporter); ok {
			status = reporter.Status()
		}
		statuses = append(statuses, status)
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": statuses,
	})
}
