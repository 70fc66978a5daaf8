package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codyseavey/card-desk/internal/api"
	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/database"
	"github.com/codyseavey/card-desk/internal/metrics"
	"github.com/codyseavey/card-desk/internal/models"
	"github.com/codyseavey/card-desk/internal/services"
)

func main() {
	cfg := config.Load()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	metrics.UpdateInventoryMetrics(db)

	// Each source gets its own fetcher so rate limits and metrics stay per-vendor
	sheetCatalog := services.NewSheetCatalogService(cfg.Sheet,
		services.NewFetcher(string(models.SourceSheet), services.WithFetchConfig(cfg.Fetch)))
	pokemonTCG := services.NewPokemonTCGService(cfg.PokemonTCG,
		services.NewFetcher(string(models.SourcePrimaryCatalog), services.WithFetchConfig(cfg.Fetch)))
	justTCG := services.NewJustTCGService(cfg.JustTCG,
		services.NewFetcher(string(models.SourceSecondaryCatalog), services.WithFetchConfig(cfg.Fetch)))

	if !cfg.Sheet.Enabled() {
		log.Println("Sheet catalog not configured (SHEET_ID / GOOGLE_SHEETS_API_KEY); it will report a config warning")
	}
	if !cfg.JustTCG.Enabled() {
		log.Println("JustTCG not configured (JUSTTCG_API_KEY); it will report a config warning")
	}

	resolver := services.NewResolver([]services.CardSource{sheetCatalog, pokemonTCG, justTCG}, cfg.Resolver)

	gemini := services.NewGeminiService(cfg.Gemini,
		services.NewFetcher("gemini", services.WithFetchConfig(cfg.Fetch)))
	if !gemini.IsEnabled() {
		log.Println("Card identification disabled (GOOGLE_API_KEY not set)")
	}

	imageStorage := services.NewImageStorageService(cfg.ScannedImagesDir)
	inventory := services.NewInventoryService(db, imageStorage)

	router := api.SetupRouter(cfg, api.Services{
		Resolver:     resolver,
		Gemini:       gemini,
		Inventory:    inventory,
		ImageStorage: imageStorage,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Println("Server exited")
}
