package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ApplyEnv overlays GRADESCAN_* environment variables onto cfg. A .env file in
// the working directory is loaded first when present; variables already set in
// the real environment win over it.
func ApplyEnv(cfg *FileConfig) {
	_ = godotenv.Load()

	if v := os.Getenv("GRADESCAN_BASE_URL"); v != "" {
		cfg.Server.BaseURL = &v
	}
	if v := os.Getenv("GRADESCAN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.TimeoutMS = &n
		}
	}
	if v := os.Getenv("GRADESCAN_CAPTURE_DIR"); v != "" {
		cfg.Capture.Dir = &v
	}
	if v := os.Getenv("GRADESCAN_CAPTURE_COMMAND"); v != "" {
		parts := strings.Fields(v)
		cfg.Capture.Command = &parts
	}
	if v := os.Getenv("GRADESCAN_LOG_PATH"); v != "" {
		cfg.Log.Path = &v
	}
	if v := os.Getenv("GRADESCAN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = &v
	}
}
