package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/httprunner/ImageAgent/internal/env"
)

// Environment keys read by the agent.
const (
	KeyControllerURL   = "IMAGEAGENT_CONTROLLER_URL"
	KeyUsername        = "IMAGEAGENT_USERNAME"
	KeyPassword        = "IMAGEAGENT_PASSWORD"
	KeyDomain          = "IMAGEAGENT_DOMAIN"
	KeyToken           = "IMAGEAGENT_TOKEN"
	KeyInsecure        = "IMAGEAGENT_INSECURE"
	KeyRequestTimeout  = "IMAGEAGENT_REQUEST_TIMEOUT"
	KeyCheckInterval   = "IMAGEAGENT_CHECK_INTERVAL"
	KeyCheckTimeout    = "IMAGEAGENT_CHECK_TIMEOUT"
	KeyDBPath          = "IMAGEAGENT_DB_PATH"
	KeyDisableRecorder = "IMAGEAGENT_DISABLE_RECORDER"
)

func lookup(key string) (string, bool) {
	_ = env.Ensure()
	val := strings.TrimSpace(os.Getenv(key))
	return val, val != ""
}

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return fallback
}

// Duration parses a duration such as "90s". A bare integer is read as seconds,
// matching how check_interval and check_timeout are usually written.
func Duration(key string, fallback time.Duration) time.Duration {
	val, ok := lookup(key)
	if !ok {
		return fallback
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool parses a boolean environment variable.
func Bool(key string, fallback bool) bool {
	val, ok := lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
