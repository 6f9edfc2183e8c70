package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voicebridge service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Live session API configuration
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" required:"true"`
	LiveModel    string `envconfig:"LIVE_MODEL" default:"models/gemini-2.0-flash-exp"`
	LiveEndpoint string `envconfig:"LIVE_ENDPOINT" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"`
	VoicePreset  string `envconfig:"VOICE_PRESET" default:"Puck"`
	SystemPrompt string `envconfig:"SYSTEM_PROMPT" default:""`

	// MCP tool server configuration
	MCPServerURL string `envconfig:"MCP_SERVER_URL" required:"true"`
	MCPProxyPath string `envconfig:"MCP_PROXY_PATH" default:"/mcp"` // Dev reverse proxy mount; empty disables it

	// Audio processing configuration
	CaptureSampleRate  int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`  // Rate sent to the live session
	PlaybackSampleRate int     `envconfig:"PLAYBACK_SAMPLE_RATE" default:"24000"` // Rate received from the live session
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"16384"`    // Ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for barge-in
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"15"`      // Frames of silence to mark speech end

	// Resilience configuration
	ToolConnectMaxAttempts int `envconfig:"TOOL_CONNECT_MAX_ATTEMPTS" default:"3"` // Tool server connect attempts before giving up
	ToolConnectBackoff     int `envconfig:"TOOL_CONNECT_BACKOFF" default:"500"`    // Fixed backoff between connect attempts (ms)
	ToolInvokeTimeout      int `envconfig:"TOOL_INVOKE_TIMEOUT" default:"30"`      // Per-invocation timeout (seconds)
	BreakerMaxFailures     int `envconfig:"BREAKER_MAX_FAILURES" default:"5"`      // Failures before opening the tool-server circuit
	BreakerResetTimeout    int `envconfig:"BREAKER_RESET_TIMEOUT" default:"30"`    // Seconds before attempting recovery

	// Tool result summarization. The recognizable field names are tied to
	// one backend's schema, so they are configuration rather than code:
	// count keys are array-valued fields worth counting, label keys are
	// scalar fields worth quoting.
	SummaryCountKeys string `envconfig:"SUMMARY_COUNT_KEYS" default:"items,results,records,rows,data"`
	SummaryLabelKeys string `envconfig:"SUMMARY_LABEL_KEYS" default:"status,message,name,id,title"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the
// environment. A missing GEMINI_API_KEY or MCP_SERVER_URL is fatal here,
// not recoverable at runtime.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.MCPServerURL == "" {
		return nil, fmt.Errorf("MCP_SERVER_URL is required")
	}

	return &cfg, nil
}

// SummaryCountKeyList returns the configured count keys as a slice
func (c *Config) SummaryCountKeyList() []string {
	return splitKeyList(c.SummaryCountKeys)
}

// SummaryLabelKeyList returns the configured label keys as a slice
func (c *Config) SummaryLabelKeyList() []string {
	return splitKeyList(c.SummaryLabelKeys)
}

func splitKeyList(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
