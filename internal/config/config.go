// Package config builds the process configuration once at startup. Every
// service receives the pieces it needs through its constructor.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DBPath             string
	CORSAllowedOrigins []string
	FrontendDistPath   string
	ScannedImagesDir   string

	Sheet      SheetConfig
	PokemonTCG PokemonTCGConfig
	JustTCG    JustTCGConfig
	Gemini     GeminiConfig
	Resolver   ResolverConfig
	Fetch      FetchConfig
}

type SheetConfig struct {
	SpreadsheetID string
	Range         string
	APIKey        string
	BaseURL       string
	CacheTTL      time.Duration
}

// Enabled reports whether the spreadsheet catalog has enough configuration to run
func (c SheetConfig) Enabled() bool {
	return c.SpreadsheetID != "" && c.APIKey != ""
}

type PokemonTCGConfig struct {
	APIKey  string
	BaseURL string
}

type JustTCGConfig struct {
	APIKey      string
	BaseURL     string
	DailyLimit  int
	Concurrency int
}

// Enabled reports whether the JustTCG catalog has a credential
func (c JustTCGConfig) Enabled() bool {
	return c.APIKey != ""
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type ResolverConfig struct {
	Timeout    time.Duration
	MaxResults int
}

type FetchConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	RequestsPerSecond float64
}

// Load reads .env files (when present) and then the process environment.
func Load() *Config {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./card_desk.db"),
		FrontendDistPath: os.Getenv("FRONTEND_DIST_PATH"),
		ScannedImagesDir: getEnv("SCANNED_IMAGES_DIR", "./data/scanned_images"),
		Sheet: SheetConfig{
			SpreadsheetID: os.Getenv("SHEET_ID"),
			Range:         getEnv("SHEET_RANGE", "Catalog!A1:J"),
			APIKey:        os.Getenv("GOOGLE_SHEETS_API_KEY"),
			BaseURL:       getEnv("SHEETS_BASE_URL", "https://sheets.googleapis.com"),
			CacheTTL:      getDuration("SHEET_CACHE_TTL", 10*time.Minute),
		},
		PokemonTCG: PokemonTCGConfig{
			APIKey:  os.Getenv("POKEMON_TCG_API_KEY"),
			BaseURL: getEnv("POKEMON_TCG_BASE_URL", "https://api.pokemontcg.io"),
		},
		JustTCG: JustTCGConfig{
			APIKey:      os.Getenv("JUSTTCG_API_KEY"),
			BaseURL:     getEnv("JUSTTCG_BASE_URL", "https://api.justtcg.com"),
			DailyLimit:  getInt("JUSTTCG_DAILY_LIMIT", 100), // free tier
			Concurrency: getInt("JUSTTCG_CONCURRENCY", 4),
		},
		Gemini: GeminiConfig{
			APIKey:  readSecret("GOOGLE_API_KEY", "GOOGLE_API_KEY_FILE"),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		},
		Resolver: ResolverConfig{
			Timeout:    getDuration("RESOLVE_TIMEOUT", 30*time.Second),
			MaxResults: getInt("RESOLVE_MAX_RESULTS", 25),
		},
		Fetch: FetchConfig{
			MaxAttempts:       getInt("FETCH_MAX_ATTEMPTS", 5),
			InitialBackoff:    getDuration("FETCH_INITIAL_BACKOFF", time.Second),
			RequestsPerSecond: getFloat("SOURCE_RPS", 5),
		},
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	} else {
		cfg.CORSAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[Config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		log.Printf("[Config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

// getDuration accepts Go duration strings ("30s") or bare seconds ("30")
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("[Config] invalid %s=%q, using %v", key, v, fallback)
	return fallback
}

// readSecret prefers the inline variable and falls back to reading a key file
func readSecret(key, fileKey string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if path := os.Getenv(fileKey); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[Config] failed to read %s: %v", fileKey, err)
			return ""
		}
		return strings.TrimSpace(string(data))
	}
	return ""
}
