package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < .env file < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	Addr string `json:"addr"` // HTTP listen address
	Dev  bool   `json:"dev"`  // dev mode: verbose logging, any websocket origin

	// Session store
	Store         string `json:"store"`          // memory | sqlite | redis
	DB            string `json:"db"`             // sqlite database path
	RedisAddr     string `json:"redis_addr"`     // host:port
	RedisPassword string `json:"redis_password"` // optional
	RedisDB       int    `json:"redis_db"`       // database index
	SessionTTL    string `json:"session_ttl"`    // idle time before a game is torn down, e.g. "6h"
	ReapInterval  string `json:"reap_interval"`  // how often idle games are swept, e.g. "10m"
	Seed          int64  `json:"seed"`           // randomness seed, 0 = random

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogRequests  bool   `json:"log_requests"`
	LogDB        bool   `json:"log_db"`
	LogWS        bool   `json:"log_ws"`
	LogDebug     bool   `json:"log_debug"`

	// AI Storyteller
	StorytellerProvider    string `json:"storyteller_provider"`    // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string `json:"storyteller_model"`       // model name
	StorytellerOllamaURL   string `json:"storyteller_ollama_url"`  // Ollama server URL
	StorytellerURL         string `json:"storyteller_url"`         // base URL for openai-compatible
	StorytellerAPIKey      string `json:"storyteller_api_key"`     // API key for openai-compatible
	StorytellerTemperature string `json:"storyteller_temperature"` // float 0-1 as string
	StorytellerThinking    string `json:"storyteller_thinking"`    // none | low | medium | high | auto
	GroqAPIKey             string `json:"groq_api_key"`            // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

func defaultConfig() AppConfig {
	return AppConfig{
		Addr:                 ":8080",
		Store:                "memory",
		DB:                   "loupgarou.db",
		RedisAddr:            "localhost:6379",
		SessionTTL:           "6h",
		ReapInterval:         "10m",
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// duration parses a config duration, falling back to def when empty or invalid.
func duration(name, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("Config: invalid %s %q, using %s", name, value, def)
		return def
	}
	return d
}

func (cfg AppConfig) sessionTTL() time.Duration {
	return duration("session_ttl", cfg.SessionTTL, 6*time.Hour)
}

func (cfg AppConfig) reapInterval() time.Duration {
	return duration("reap_interval", cfg.ReapInterval, 10*time.Minute)
}

// loadConfig builds a config by layering: defaults → .env file → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(envPath, configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: .env file. godotenv never overrides variables already set,
	// so the real environment wins.
	if envPath != "" {
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("Config: loaded environment from %s", envPath)
		} else if !os.IsNotExist(err) {
			log.Printf("Config: failed to read %s: %v", envPath, err)
		}
	}

	// Layer 2: env vars
	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string) (int64, bool) {
		v := os.Getenv(key)
		if v == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Printf("Config: invalid %s %q: %v", key, v, err)
			return 0, false
		}
		return n, true
	}

	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("STORE"); v != "" {
		cfg.Store = v
	}
	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v := envStr("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := envStr("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v, ok := envInt("REDIS_DB"); ok {
		cfg.RedisDB = int(v)
	}
	if v := envStr("SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := envStr("REAP_INTERVAL"); v != "" {
		cfg.ReapInterval = v
	}
	if v, ok := envInt("SEED"); ok {
		cfg.Seed = v
	}
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_REQUESTS"); ok {
		cfg.LogRequests = v
	}
	if v, ok := envBool("LOG_DB"); ok {
		cfg.LogDB = v
	}
	if v, ok := envBool("LOG_WS"); ok {
		cfg.LogWS = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	if v := envStr("STORYTELLER_PROVIDER"); v != "" {
		cfg.StorytellerProvider = v
	}
	if v := envStr("STORYTELLER_MODEL"); v != "" {
		cfg.StorytellerModel = v
	}
	if v := envStr("STORYTELLER_OLLAMA_URL"); v != "" {
		cfg.StorytellerOllamaURL = v
	}
	if v := envStr("STORYTELLER_URL"); v != "" {
		cfg.StorytellerURL = v
	}
	if v := envStr("STORYTELLER_API_KEY"); v != "" {
		cfg.StorytellerAPIKey = v
	}
	if v := envStr("STORYTELLER_TEMPERATURE"); v != "" {
		cfg.StorytellerTemperature = v
	}
	if v := envStr("STORYTELLER_THINKING"); v != "" {
		cfg.StorytellerThinking = v
	}
	if v := envStr("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}

	// Layer 3: JSON config file, only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	set := func(key string, dst any) {
		if v, ok := m[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				log.Printf("Config: invalid %s: %v", key, err)
			}
		}
	}
	set("addr", &cfg.Addr)
	set("dev", &cfg.Dev)
	set("store", &cfg.Store)
	set("db", &cfg.DB)
	set("redis_addr", &cfg.RedisAddr)
	set("redis_password", &cfg.RedisPassword)
	set("redis_db", &cfg.RedisDB)
	set("session_ttl", &cfg.SessionTTL)
	set("reap_interval", &cfg.ReapInterval)
	set("seed", &cfg.Seed)
	set("log_output_dir", &cfg.LogOutputDir)
	set("log_requests", &cfg.LogRequests)
	set("log_db", &cfg.LogDB)
	set("log_ws", &cfg.LogWS)
	set("log_debug", &cfg.LogDebug)
	set("storyteller_provider", &cfg.StorytellerProvider)
	set("storyteller_model", &cfg.StorytellerModel)
	set("storyteller_ollama_url", &cfg.StorytellerOllamaURL)
	set("storyteller_url", &cfg.StorytellerURL)
	set("storyteller_api_key", &cfg.StorytellerAPIKey)
	set("storyteller_temperature", &cfg.StorytellerTemperature)
	set("storyteller_thinking", &cfg.StorytellerThinking)
	set("groq_api_key", &cfg.GroqAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	envPath                *string
	configPath             *string
	addr                   *string
	dev                    *bool
	store                  *string
	db                     *string
	redisAddr              *string
	redisPassword          *string
	redisDB                *int
	sessionTTL             *string
	reapInterval           *string
	seed                   *int64
	logOutputDir           *string
	logRequests            *bool
	logDB                  *bool
	logWS                  *bool
	logDebug               *bool
	storytellerProvider    *string
	storytellerModel       *string
	storytellerOllamaURL   *string
	storytellerURL         *string
	storytellerAPIKey      *string
	storytellerTemperature *string
	storytellerThinking    *string
	groqAPIKey             *string
}

// registerFlags registers all CLI flags on fs and returns pointers to their values.
// Call fs.Parse after this, then applyTo to layer them over the loaded config.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		envPath:                fs.String("env", ".env", "path to .env file"),
		configPath:             fs.String("config", "config.json", "path to JSON config file"),
		addr:                   fs.String("addr", "", "HTTP listen address (e.g. :8080)"),
		dev:                    fs.Bool("dev", false, "enable development mode (verbose logging, any websocket origin)"),
		store:                  fs.String("store", "", "session store (memory|sqlite|redis)"),
		db:                     fs.String("db", "", "sqlite database path"),
		redisAddr:              fs.String("redis-addr", "", "redis address host:port"),
		redisPassword:          fs.String("redis-password", "", "redis password"),
		redisDB:                fs.Int("redis-db", 0, "redis database index"),
		sessionTTL:             fs.String("session-ttl", "", "idle time before a game is torn down (e.g. 6h)"),
		reapInterval:           fs.String("reap-interval", "", "how often idle games are swept (e.g. 10m)"),
		seed:                   fs.Int64("seed", 0, "randomness seed (0 = random)"),
		logOutputDir:           fs.String("log-output-dir", "", "directory for extended log files"),
		logRequests:            fs.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:                  fs.Bool("log-db", false, "log database dumps"),
		logWS:                  fs.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:               fs.Bool("log-debug", false, "enable debug logging"),
		storytellerProvider:    fs.String("storyteller-provider", "", "AI storyteller provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		storytellerModel:       fs.String("storyteller-model", "", "AI storyteller model name"),
		storytellerOllamaURL:   fs.String("storyteller-ollama-url", "", "Ollama server URL"),
		storytellerURL:         fs.String("storyteller-url", "", "base URL for openai-compatible provider"),
		storytellerAPIKey:      fs.String("storyteller-api-key", "", "API key for storyteller provider"),
		storytellerTemperature: fs.String("storyteller-temperature", "", "sampling temperature 0-1"),
		storytellerThinking:    fs.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:             fs.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(fs *flag.FlagSet, cfg *AppConfig) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *fv.addr
		case "dev":
			cfg.Dev = *fv.dev
		case "store":
			cfg.Store = *fv.store
		case "db":
			cfg.DB = *fv.db
		case "redis-addr":
			cfg.RedisAddr = *fv.redisAddr
		case "redis-password":
			cfg.RedisPassword = *fv.redisPassword
		case "redis-db":
			cfg.RedisDB = *fv.redisDB
		case "session-ttl":
			cfg.SessionTTL = *fv.sessionTTL
		case "reap-interval":
			cfg.ReapInterval = *fv.reapInterval
		case "seed":
			cfg.Seed = *fv.seed
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "storyteller-provider":
			cfg.StorytellerProvider = *fv.storytellerProvider
		case "storyteller-model":
			cfg.StorytellerModel = *fv.storytellerModel
		case "storyteller-ollama-url":
			cfg.StorytellerOllamaURL = *fv.storytellerOllamaURL
		case "storyteller-url":
			cfg.StorytellerURL = *fv.storytellerURL
		case "storyteller-api-key":
			cfg.StorytellerAPIKey = *fv.storytellerAPIKey
		case "storyteller-temperature":
			cfg.StorytellerTemperature = *fv.storytellerTemperature
		case "storyteller-thinking":
			cfg.StorytellerThinking = *fv.storytellerThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
