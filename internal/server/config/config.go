package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all server settings, loaded from the environment.
type Config struct {
	Port    string
	BaseURL string

	// Root is the single sandbox root all relative paths resolve against.
	Root string
	// StateDir holds the JSON stores and the thumbnail cache.
	StateDir string
	// EditableRoots lists sandbox-relative subtrees where writes are allowed.
	EditableRoots []string

	// AdminPassword guards the owner session; empty disables the entire
	// auth subsystem (no login, no share passcodes).
	AdminPassword string
	// AllowedDomains optionally restricts which Host values may use the
	// admin session.
	AllowedDomains []string
	// SessionSecret signs per-share session cookies. Generated at startup
	// when empty.
	SessionSecret string

	LoginRateMax    int
	LoginRateWindow time.Duration

	FFmpeg      string
	FFprobe     string
	ToolTimeout time.Duration

	ThumbCleanupInterval time.Duration
	ThumbMaxAge          time.Duration
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	root := getEnv("MEDLEY_ROOT", "")
	stateDir := getEnv("MEDLEY_STATE_DIR", "")
	if stateDir == "" && root != "" {
		stateDir = filepath.Join(root, ".medley")
	}
	return &Config{
		Port:    getEnv("PORT", "8080"),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		Root:          root,
		StateDir:      stateDir,
		EditableRoots: getEnvList("MEDLEY_EDITABLE"),

		AdminPassword:  getEnv("MEDLEY_ADMIN_PASSWORD", ""),
		AllowedDomains: getEnvList("MEDLEY_ALLOWED_DOMAINS"),
		SessionSecret:  getEnv("MEDLEY_SESSION_SECRET", ""),

		LoginRateMax:    getEnvInt("MEDLEY_LOGIN_RATE_MAX", 10),
		LoginRateWindow: getEnvSeconds("MEDLEY_LOGIN_RATE_WINDOW_SECONDS", 15*time.Minute),

		FFmpeg:      getEnv("MEDLEY_FFMPEG", "ffmpeg"),
		FFprobe:     getEnv("MEDLEY_FFPROBE", "ffprobe"),
		ToolTimeout: getEnvSeconds("MEDLEY_TOOL_TIMEOUT_SECONDS", 15*time.Second),

		ThumbCleanupInterval: getEnvDuration("MEDLEY_THUMB_CLEANUP_HOURS", 6*time.Hour),
		ThumbMaxAge:          getEnvDuration("MEDLEY_THUMB_MAX_AGE_HOURS", 30*24*time.Hour),
	}
}

// AuthEnabled reports whether an admin password is configured.
func (c *Config) AuthEnabled() bool {
	return c.AdminPassword != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if hours, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(hours * float64(time.Hour))
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}
