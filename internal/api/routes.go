package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codyseavey/card-desk/internal/api/handlers"
	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/metrics"
	"github.com/codyseavey/card-desk/internal/services"
)

// Services bundles what the router needs to build its handlers
type Services struct {
	Resolver     *services.Resolver
	Gemini       *services.GeminiService
	Inventory    *services.InventoryService
	ImageStorage *services.ImageStorageService
}

func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	router := gin.Default()
	router.Use(requestID(), prometheusMiddleware())

	serveFrontend := cfg.FrontendDistPath != "" && dirExists(cfg.FrontendDistPath)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", handlers.IdempotencyKeyHeader}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	corsConfig.AllowCredentials = false // Explicitly set
	router.Use(cors.New(corsConfig))

	// Initialize handlers
	cardHandler := handlers.NewCardHandler(svc.Resolver, svc.Gemini)
	sourceHandler := handlers.NewSourceHandler(svc.Resolver.Sources())
	inventoryHandler := handlers.NewInventoryHandler(svc.Inventory)

	// Serve scanned images
	if svc.ImageStorage != nil {
		router.Static("/images/scanned", svc.ImageStorage.GetStorageDir())
	}

	api := router.Group("/api")
	{
		cards := api.Group("/cards")
		{
			cards.POST("/resolve", cardHandler.ResolveCard)
			cards.POST("/identify", cardHandler.IdentifyCard)
		}

		api.GET("/sources/status", sourceHandler.GetSourceStatus)

		inventory := api.Group("/inventory")
		{
			inventory.GET("", inventoryHandler.GetInventory)
			inventory.POST("", inventoryHandler.AddInventoryItem)
			inventory.GET("/stats", inventoryHandler.GetStats)
			inventory.GET("/:id", inventoryHandler.GetInventoryItem)
			inventory.PUT("/:id", inventoryHandler.UpdateInventoryItem)
			inventory.DELETE("/:id", inventoryHandler.DeleteInventoryItem)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Serve frontend static files
	if serveFrontend {
		frontendPath := cfg.FrontendDistPath
		indexPath := filepath.Join(frontendPath, "index.html")

		router.Static("/assets", filepath.Join(frontendPath, "assets"))
		router.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})

		// SPA fallback - serve index.html for all non-API routes
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.File(indexPath)
		})
	}

	return router
}

const requestIDHeader = "X-Request-ID"

// requestID echoes the caller's request id or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
