package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/card-desk/internal/models"
	"github.com/codyseavey/card-desk/internal/services"
)

// IdempotencyKeyHeader lets clients retry an add without creating duplicates
const IdempotencyKeyHeader = "Idempotency-Key"

type InventoryHandler struct {
	inventory *services.InventoryService
}

func NewInventoryHandler(inventory *services.InventoryService) *InventoryHandler {
	return &InventoryHandler{
		inventory: inventory,
	}
}

func (h *InventoryHandler) GetInventory(c *gin.Context) {
	filter := services.InventoryFilter{
		Source: models.SourceTag(c.Query("source")),
		Search: c.Query("q"),
	}
	if v := c.Query("available"); v != "" {
		available, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "available must be true or false"})
			return
		}
		filter.Available = &available
	}

	items, err := h.inventory.List(c.Request.Context(), filter)
	if err != nil {
		writeInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

func (h *InventoryHandler) GetInventoryItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	item, err := h.inventory.Get(c.Request.Context(), id)
	if err != nil {
		writeInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// AddInventoryItem persists the candidate the admin confirmed.
// Returns 201 for a new item and 200 when the idempotency key was replayed.
func (h *InventoryHandler) AddInventoryItem(c *gin.Context) {
	var req models.PersistInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, created, err := h.inventory.Persist(c.Request.Context(), req, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		writeInventoryError(c, err)
		return
	}

	if !created {
		c.JSON(http.StatusOK, item)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *InventoryHandler) UpdateInventoryItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req models.UpdateInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.inventory.Update(c.Request.Context(), id, req)
	if err != nil {
		writeInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *InventoryHandler) DeleteInventoryItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.inventory.Delete(c.Request.Context(), id); err != nil {
		writeInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "item deleted"})
}

func (h *InventoryHandler) GetStats(c *gin.Context) {
	stats, err := h.inventory.Stats(c.Request.Context())
	if err != nil {
		writeInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func writeInventoryError(c *gin.Context, err error) {
	var validation *services.ValidationError
	var persistence *services.PersistenceError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.Is(err, services.ErrInventoryItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
	case errors.As(err, &persistence):
		log.Printf("Inventory storage error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save inventory; please retry"})
	default:
		log.Printf("Inventory error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
