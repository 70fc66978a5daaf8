package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/card-desk/internal/metrics"
	"github.com/codyseavey/card-desk/internal/models"
)

// InventoryService is the only writer of inventory items
type InventoryService struct {
	db     *gorm.DB
	images *ImageStorageService
}

func NewInventoryService(db *gorm.DB, images *ImageStorageService) *InventoryService {
	return &InventoryService{db: db, images: images}
}

// InventoryFilter narrows List; zero values mean "any"
type InventoryFilter struct {
	Available *bool
	Source    models.SourceTag
	Search    string
}

// Persist stores a confirmed candidate as an inventory item. When
// idempotencyKey was seen before, the existing item is returned with
// created=false and nothing is written.
func (s *InventoryService) Persist(ctx context.Context, req models.PersistInventoryRequest, idempotencyKey string) (*models.InventoryItem, bool, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	if idempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			metrics.InventoryWritesTotal.WithLabelValues("replay").Inc()
			log.Printf("[Inventory] replayed idempotency key %s -> item %d", idempotencyKey, existing.ID)
			return existing, false, nil
		}
	}

	item, err := s.buildItem(req)
	if err != nil {
		return nil, false, err
	}
	if idempotencyKey != "" {
		item.IdempotencyKey = &idempotencyKey
	}

	if req.ScannedImageData != "" && s.images != nil {
		imageData, err := base64.StdEncoding.DecodeString(req.ScannedImageData)
		if err != nil {
			return nil, false, &ValidationError{Field: "scanned_image_data", Err: err}
		}
		filename, err := s.images.SaveImage(imageData)
		if err != nil {
			return nil, false, &PersistenceError{Op: "save image", Err: err}
		}
		item.ScannedImagePath = filename
	}

	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		// a concurrent request with the same key may have won the insert
		if idempotencyKey != "" {
			if existing, findErr := s.findByIdempotencyKey(ctx, idempotencyKey); findErr == nil && existing != nil {
				s.discardImage(item.ScannedImagePath)
				metrics.InventoryWritesTotal.WithLabelValues("replay").Inc()
				return existing, false, nil
			}
		}
		s.discardImage(item.ScannedImagePath)
		metrics.InventoryWritesTotal.WithLabelValues("error").Inc()
		return nil, false, &PersistenceError{Op: "create", Err: err}
	}

	metrics.InventoryWritesTotal.WithLabelValues("create").Inc()
	metrics.UpdateInventoryMetrics(s.db)
	log.Printf("[Inventory] added %q (%s, %s) listed at %s, market %s",
		item.CardName, item.SetName, item.Source, item.ListedPrice, formatMarketPrice(item.MarketPrice))
	return item, true, nil
}

func (s *InventoryService) buildItem(req models.PersistInventoryRequest) (*models.InventoryItem, error) {
	c := req.Candidate
	if strings.TrimSpace(c.Name) == "" {
		return nil, &ValidationError{Field: "candidate.name", Err: ErrEmptyCardName}
	}
	if req.ListedPrice < 0 {
		return nil, &ValidationError{Field: "listed_price_cents", Err: errors.New("must not be negative")}
	}
	if req.ListedPrice == 0 && !req.ConfirmZeroPrice {
		return nil, &ValidationError{Field: "listed_price_cents", Err: errors.New("zero price requires confirm_zero_price")}
	}

	condition := req.Condition
	if condition == "" {
		condition = models.ConditionNearMint
	}
	if !condition.IsValid() {
		return nil, &ValidationError{Field: "condition", Err: fmt.Errorf("unknown condition %q", condition)}
	}

	language := c.Language
	if req.Language != "" {
		language = models.NormalizeLanguage(req.Language)
	}
	if language == "" {
		language = models.LanguageEnglish
	}

	source := c.SourceTag
	if source == "" {
		source = models.SourceManual
	}

	item := &models.InventoryItem{
		CardName:     strings.TrimSpace(c.Name),
		SetName:      c.SetName,
		CardNumber:   c.Number,
		Rarity:       c.Rarity,
		ImageURL:     c.ImageURL,
		ListedPrice:  req.ListedPrice,
		Condition:    condition,
		Language:     language,
		Source:       source,
		SourceCardID: c.ID,
		Availability: true,
		AddedAt:      time.Now(),
	}
	if c.Price != nil {
		market := *c.Price
		item.MarketPrice = &market
	}
	return item, nil
}

func (s *InventoryService) findByIdempotencyKey(ctx context.Context, key string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "lookup", Err: err}
	}
	return &item, nil
}

func (s *InventoryService) discardImage(filename string) {
	if filename == "" || s.images == nil {
		return
	}
	if err := s.images.DeleteImage(filename); err != nil {
		log.Printf("[Inventory] failed to clean up image %s: %v", filename, err)
	}
}

// List returns inventory items, newest first
func (s *InventoryService) List(ctx context.Context, filter InventoryFilter) ([]models.InventoryItem, error) {
	query := s.db.WithContext(ctx).Model(&models.InventoryItem{})

	if filter.Available != nil {
		query = query.Where("availability = ?", *filter.Available)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(card_name) LIKE ? OR LOWER(set_name) LIKE ?", like, like)
	}

	items := []models.InventoryItem{}
	if err := query.Order("added_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return items, nil
}

// Get returns ErrInventoryItemNotFound for an unknown id
func (s *InventoryService) Get(ctx context.Context, id uint) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInventoryItemNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return &item, nil
}

// Update applies the non-nil fields of req
func (s *InventoryService) Update(ctx context.Context, id uint, req models.UpdateInventoryRequest) (*models.InventoryItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ListedPrice != nil {
		if *req.ListedPrice < 0 {
			return nil, &ValidationError{Field: "listed_price_cents", Err: errors.New("must not be negative")}
		}
		item.ListedPrice = *req.ListedPrice
	}
	if req.MarketPrice != nil {
		market := *req.MarketPrice
		item.MarketPrice = &market
	}
	if req.Condition != nil {
		if !req.Condition.IsValid() {
			return nil, &ValidationError{Field: "condition", Err: fmt.Errorf("unknown condition %q", *req.Condition)}
		}
		item.Condition = *req.Condition
	}
	if req.Language != nil {
		item.Language = models.NormalizeLanguage(*req.Language)
	}
	if req.Availability != nil {
		item.Availability = *req.Availability
	}

	if err := s.db.WithContext(ctx).Save(item).Error; err != nil {
		metrics.InventoryWritesTotal.WithLabelValues("error").Inc()
		return nil, &PersistenceError{Op: "update", Err: err}
	}

	metrics.InventoryWritesTotal.WithLabelValues("update").Inc()
	metrics.UpdateInventoryMetrics(s.db)
	return item, nil
}

// Delete removes the item and its stored photo
func (s *InventoryService) Delete(ctx context.Context, id uint) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.InventoryItem{}, id).Error; err != nil {
		metrics.InventoryWritesTotal.WithLabelValues("error").Inc()
		return &PersistenceError{Op: "delete", Err: err}
	}
	s.discardImage(item.ScannedImagePath)

	metrics.InventoryWritesTotal.WithLabelValues("delete").Inc()
	metrics.UpdateInventoryMetrics(s.db)
	return nil
}

// Stats summarizes the inventory. Items without a market price are counted
// in UnpricedItems and excluded from MarketValue.
func (s *InventoryService) Stats(ctx context.Context) (*models.InventoryStats, error) {
	var items []models.InventoryItem
	if err := s.db.WithContext(ctx).Find(&items).Error; err != nil {
		return nil, &PersistenceError{Op: "stats", Err: err}
	}

	stats := &models.InventoryStats{TotalItems: len(items)}
	for _, item := range items {
		if item.Availability {
			stats.AvailableItems++
			stats.ListedValue += item.ListedPrice
		}
		if item.MarketPrice == nil {
			stats.UnpricedItems++
		} else {
			stats.MarketValue += *item.MarketPrice
		}

		switch item.Source {
		case models.SourceSheet:
			stats.ItemsBySheet++
		case models.SourcePrimaryCatalog:
			stats.ItemsByPrimary++
		case models.SourceSecondaryCatalog:
			stats.ItemsBySecondary++
		}
	}
	return stats, nil
}

func formatMarketPrice(p *models.Cents) string {
	if p == nil {
		return "unknown"
	}
	return p.String()
}
