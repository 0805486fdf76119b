package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is an optional YAML file describing an interview run: curriculum
// week plus avatar and audio preferences.
type Profile struct {
	WeekNumber int `yaml:"week_number"`
	Avatar     struct {
		Enabled      bool   `yaml:"enabled"`
		AvatarID     string `yaml:"avatar_id"`
		VoiceID      string `yaml:"voice_id"`
		Mode         string `yaml:"mode"`
		AutoGreeting bool   `yaml:"auto_greeting"`
	} `yaml:"avatar"`
	Audio struct {
		DisablePlayback bool `yaml:"disable_playback"`
		StartSuspended  bool `yaml:"start_suspended"`
	} `yaml:"audio"`
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(filename string) (*Profile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateProfile(&p); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &p, nil
}

func validateProfile(p *Profile) error {
	if p.WeekNumber < 0 {
		return fmt.Errorf("week_number must not be negative")
	}
	if p.Avatar.Mode != "" && p.Avatar.Mode != "interview" && p.Avatar.Mode != "presenter" {
		return fmt.Errorf("avatar mode %q not recognized", p.Avatar.Mode)
	}
	if !p.Avatar.Enabled && (p.Avatar.AvatarID != "" || p.Avatar.VoiceID != "") {
		return fmt.Errorf("avatar ids set while avatar is disabled")
	}
	return nil
}
