package services

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/codyseavey/card-desk/internal/database"
	"github.com/codyseavey/card-desk/internal/models"
)

func newInventoryTestService(t *testing.T) (*InventoryService, string) {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	dir := t.TempDir()
	return NewInventoryService(db, NewImageStorageService(dir)), dir
}

func pikachuCandidate(price *models.Cents) models.CandidateCard {
	return models.CandidateCard{
		ID:        "swsh4-44",
		Name:      "Pikachu VMAX",
		SetName:   "Vivid Voltage",
		Number:    "44",
		Rarity:    "Rare Holo VMAX",
		Language:  models.LanguageEnglish,
		Price:     price,
		SourceTag: models.SourcePrimaryCatalog,
	}
}

func TestPersistCreatesItem(t *testing.T) {
	svc, _ := newInventoryTestService(t)
	ctx := context.Background()

	item, created, err := svc.Persist(ctx, models.PersistInventoryRequest{
		Candidate:   pikachuCandidate(cents(4500)),
		ListedPrice: 4999,
		Condition:   models.ConditionNearMint,
	}, "")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if !created || item.ID == 0 {
		t.Fatalf("expected a new item, got created=%v id=%d", created, item.ID)
	}

	got, err := svc.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MarketPrice == nil || *got.MarketPrice != 4500 {
		t.Errorf("expected market price 4500, got %v", got.MarketPrice)
	}
	if got.ListedPrice != 4999 || got.Source != models.SourcePrimaryCatalog || got.SourceCardID != "swsh4-44" {
		t.Errorf("unexpected stored item %+v", got)
	}
	if !got.Availability {
		t.Errorf("expected new items to be available")
	}
}

func TestPersistUnknownMarketPriceStaysNull(t *testing.T) {
	svc, _ := newInventoryTestService(t)
	ctx := context.Background()

	item, _, err := svc.Persist(ctx, models.PersistInventoryRequest{
		Candidate:   pikachuCandidate(nil),
		ListedPrice: 1000,
	}, "")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	var nulls int64
	svc.db.Model(&models.InventoryItem{}).Where("id = ? AND market_price IS NULL", item.ID).Count(&nulls)
	if nulls != 1 {
		t.Errorf("expected market_price to be stored as NULL")
	}

	got, _ := svc.Get(ctx, item.ID)
	if got.MarketPrice != nil {
		t.Errorf("expected unknown market price, got %v", *got.MarketPrice)
	}
	if got.Condition != models.ConditionNearMint {
		t.Errorf("expected default NM condition, got %s", got.Condition)
	}
}

func TestPersistIdempotency(t *testing.T) {
	svc, _ := newInventoryTestService(t)
	ctx := context.Background()
	req := models.PersistInventoryRequest{Candidate: pikachuCandidate(cents(4500)), ListedPrice: 4999}

	first, created, err := svc.Persist(ctx, req, "scan-42")
	if err != nil || !created {
		t.Fatalf("first Persist: created=%v err=%v", created, err)
	}

	req.ListedPrice = 100
	second, created, err := svc.Persist(ctx, req, "scan-42")
	if err != nil {
		t.Fatalf("second Persist failed: %v", err)
	}
	if created {
		t.Error("expected replay, not a new item")
	}
	if second.ID != first.ID || second.ListedPrice != 4999 {
		t.Errorf("expected the original item back, got %+v", second)
	}

	items, _ := svc.List(ctx, InventoryFilter{})
	if len(items) != 1 {
		t.Errorf("expected 1 stored item, got %d", len(items))
	}

	// a different key is a different item
	if _, created, _ := svc.Persist(ctx, req, "scan-43"); !created {
		t.Error("expected a new item for a new key")
	}
}

func TestPersistValidation(t *testing.T) {
	svc, _ := newInventoryTestService(t)

	tests := []struct {
		name  string
		req   models.PersistInventoryRequest
		field string
	}{
		{"missing name", models.PersistInventoryRequest{ListedPrice: 100}, "candidate.name"},
		{"negative price", models.PersistInventoryRequest{Candidate: pikachuCandidate(nil), ListedPrice: -1}, "listed_price_cents"},
		{"unconfirmed zero price", models.PersistInventoryRequest{Candidate: pikachuCandidate(nil)}, "listed_price_cents"},
		{"bad condition", models.PersistInventoryRequest{Candidate: pikachuCandidate(nil), ListedPrice: 100, Condition: "Mint-ish"}, "condition"},
		{"bad image", models.PersistInventoryRequest{Candidate: pikachuCandidate(nil), ListedPrice: 100, ScannedImageData: "%%%"}, "scanned_image_data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Persist(context.Background(), tt.req, "")
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validation.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, validation.Field)
			}
		})
	}

	// confirmed zero price is allowed
	_, created, err := svc.Persist(context.Background(), models.PersistInventoryRequest{
		Candidate: pikachuCandidate(nil), ConfirmZeroPrice: true,
	}, "")
	if err != nil || !created {
		t.Errorf("expected confirmed zero price to be stored, got %v", err)
	}
}

func TestPersistStorageFailure(t *testing.T) {
	svc, _ := newInventoryTestService(t)
	sqlDB, _ := svc.db.DB()
	sqlDB.Close()

	_, _, err := svc.Persist(context.Background(), models.PersistInventoryRequest{
		Candidate: pikachuCandidate(nil), ListedPrice: 100,
	}, "")
	var persistErr *PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestInventoryUpdateDeleteAndStats(t *testing.T) {
	svc, dir := newInventoryTestService(t)
	ctx := context.Background()

	image := base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0 jpeg"))
	a, _, err := svc.Persist(ctx, models.PersistInventoryRequest{
		Candidate: pikachuCandidate(cents(4500)), ListedPrice: 5000, ScannedImageData: image,
	}, "")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if a.ScannedImagePath == "" {
		t.Fatal("expected the scanned image to be stored")
	}

	sheetCard := pikachuCandidate(nil)
	sheetCard.SourceTag = models.SourceSheet
	b, _, _ := svc.Persist(ctx, models.PersistInventoryRequest{Candidate: sheetCard, ListedPrice: 300}, "")

	sold := false
	lp := models.ConditionLightPlay
	if _, err := svc.Update(ctx, b.ID, models.UpdateInventoryRequest{Availability: &sold, Condition: &lp}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	bad := models.Condition("??")
	if _, err := svc.Update(ctx, b.ID, models.UpdateInventoryRequest{Condition: &bad}); err == nil {
		t.Error("expected invalid condition to be rejected")
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalItems != 2 || stats.AvailableItems != 1 {
		t.Errorf("unexpected counts %+v", stats)
	}
	if stats.ListedValue != 5000 || stats.MarketValue != 4500 || stats.UnpricedItems != 1 {
		t.Errorf("unexpected values %+v", stats)
	}
	if stats.ItemsByPrimary != 1 || stats.ItemsBySheet != 1 {
		t.Errorf("unexpected source breakdown %+v", stats)
	}

	available := true
	items, _ := svc.List(ctx, InventoryFilter{Available: &available})
	if len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("expected only the available item, got %+v", items)
	}
	items, _ = svc.List(ctx, InventoryFilter{Source: models.SourceSheet})
	if len(items) != 1 || items[0].ID != b.ID {
		t.Errorf("expected only the sheet item, got %+v", items)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, a.ScannedImagePath)); !os.IsNotExist(err) {
		t.Errorf("expected the scanned image to be removed with the item")
	}
	if _, err := svc.Get(ctx, a.ID); !errors.Is(err, ErrInventoryItemNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := svc.Delete(ctx, a.ID); !errors.Is(err, ErrInventoryItemNotFound) {
		t.Errorf("expected not found deleting twice, got %v", err)
	}
}
