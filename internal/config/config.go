package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	BackendURL  string
	WeekNumber  int
	ProfilePath string

	AvatarEnabled bool
	AvatarID      string
	VoiceID       string

	PlaybackEnabled bool
	StartSuspended  bool
}

// Load reads environment variables and returns Config with sane defaults. An
// optional YAML profile (PROFILE_FILE) layers on top of the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	backend := os.Getenv("BACKEND_URL")
	if backend == "" {
		backend = "http://localhost:8080"
		log.Printf("BACKEND_URL not set, using %s", backend)
	}

	week := 1
	if v := os.Getenv("WEEK_NUMBER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Printf("Warning: invalid WEEK_NUMBER %q, using 1", v)
		} else {
			week = n
		}
	}

	cfg := Config{
		BackendURL:      backend,
		WeekNumber:      week,
		ProfilePath:     os.Getenv("PROFILE_FILE"),
		AvatarEnabled:   boolEnv("AVATAR_ENABLED"),
		AvatarID:        os.Getenv("AVATAR_ID"),
		VoiceID:         os.Getenv("VOICE_ID"),
		PlaybackEnabled: !boolEnv("DISABLE_PLAYBACK"),
		StartSuspended:  boolEnv("START_SUSPENDED"),
	}

	if cfg.ProfilePath != "" {
		profile, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			log.Printf("Warning: profile %s not loaded: %v", cfg.ProfilePath, err)
		} else {
			cfg.applyProfile(profile)
		}
	}

	if cfg.AvatarEnabled && cfg.AvatarID == "" {
		log.Println("Warning: AVATAR_ENABLED set without AVATAR_ID - backend default avatar will be used")
	}

	log.Printf("config: BACKEND_URL=%s WEEK_NUMBER=%d avatar=%v", cfg.BackendURL, cfg.WeekNumber, cfg.AvatarEnabled)
	return cfg
}

func (c *Config) applyProfile(p *Profile) {
	if p.WeekNumber > 0 {
		c.WeekNumber = p.WeekNumber
	}
	if p.Avatar.Enabled {
		c.AvatarEnabled = true
	}
	if p.Avatar.AvatarID != "" {
		c.AvatarID = p.Avatar.AvatarID
	}
	if p.Avatar.VoiceID != "" {
		c.VoiceID = p.Avatar.VoiceID
	}
	if p.Audio.DisablePlayback {
		c.PlaybackEnabled = false
	}
	if p.Audio.StartSuspended {
		c.StartSuspended = true
	}
}

func boolEnv(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "yes":
		return true
	}
	return false
}
