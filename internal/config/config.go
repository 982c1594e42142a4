// Package config implements the cascading configuration loader ambient
// to the audio pipeline: YAML file → TOML file → environment →
// hardcoded defaults, the same cascade the teacher's
// pkg/audio/config.go ConfigManager uses, generalized to the spec's
// environment variables (PROVIDER_API_KEY, PROVIDER_USER_ID, USE_CACHE,
// STDERR_LOG, LOG_LEVEL, …). AppConfig below is the outer,
// out-of-scope harness config (voice-gateway token, owner id) consumed
// only by cmd/musicbot, kept separate from the pipeline's own Config.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// AppConfig is the reference harness's own bootstrap configuration —
// the "external, out of scope" layer spec.md §1 excludes from the
// core. Grounded on the teacher's internal/config.Config.
type AppConfig struct {
	VoiceToken string
	OwnerID    string
	BotLocale  string

	CronEnabled  bool
	CronSchedule string

	DatabaseURL string
}

var (
	ErrVoiceTokenNotSet = os.ErrInvalid
	ErrOwnerIDNotSet    = os.ErrInvalid
	ErrDBPathNotSet     = os.ErrInvalid
)

// LoadAppConfig loads the harness config from environment variables
// (spec.md §6: VOICE_TOKEN, BOT_LOCALE are listed as external).
func LoadAppConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	voiceToken := os.Getenv("VOICE_TOKEN")
	if voiceToken == "" {
		return nil, ErrVoiceTokenNotSet
	}

	ownerID := os.Getenv("BOT_OWNER_ID")
	if ownerID == "" {
		return nil, ErrOwnerIDNotSet
	}

	cronEnabled := true
	if enabled := os.Getenv("CRON_ENABLED"); enabled != "" {
		cronEnabled = enabled == "true" || enabled == "1"
	}

	cronSchedule := os.Getenv("CRON_SCHEDULE")
	if cronSchedule == "" {
		cronSchedule = "0 */2 * * *" // minute 0 of every second hour
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, ErrDBPathNotSet
	}

	return &AppConfig{
		VoiceToken:   voiceToken,
		OwnerID:      ownerID,
		BotLocale:    os.Getenv("BOT_LOCALE"),
		CronEnabled:  cronEnabled,
		CronSchedule: cronSchedule,
		DatabaseURL:  databaseURL,
	}, nil
}
