package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/services"
)

// Seed is the boot-time fixture file. Speakers are matched by name and settings by key; existing
// rows are left alone so edits made through the API survive a restart.
type Seed struct {
	Speakers []SeedSpeaker    `yaml:"speakers"`
	Settings map[string]string `yaml:"settings"`
}

type SeedSpeaker struct {
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
	Color  string `yaml:"color"`
	IsUser bool   `yaml:"is_user"`
}

func ParseSeed(raw []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, sp := range s.Speakers {
		if strings.TrimSpace(sp.Name) == "" {
			return Seed{}, fmt.Errorf("seed speaker %d: name required", i)
		}
	}
	return s, nil
}

func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(raw)
}

// ApplySeed returns how many speakers and settings it created.
func ApplySeed(dbc dbctx.Context, log *logger.Logger, seed Seed, speakers services.SpeakerService, settings services.SettingService) (int, int, error) {
	existing, err := speakers.List(dbc)
	if err != nil {
		return 0, 0, err
	}
	byName := make(map[string]bool, len(existing))
	for _, sp := range existing {
		byName[strings.ToLower(sp.Name)] = true
	}
	createdSpeakers := 0
	for _, sp := range seed.Speakers {
		name := strings.TrimSpace(sp.Name)
		if byName[strings.ToLower(name)] {
			continue
		}
		if _, err := speakers.Create(dbc, services.SpeakerInput{
			Name:   name,
			Avatar: sp.Avatar,
			Color:  sp.Color,
			IsUser: sp.IsUser,
		}); err != nil {
			return createdSpeakers, 0, fmt.Errorf("seed speaker %q: %w", name, err)
		}
		byName[strings.ToLower(name)] = true
		createdSpeakers++
	}

	current, err := settings.List(dbc)
	if err != nil {
		return createdSpeakers, 0, err
	}
	createdSettings := 0
	for key, value := range seed.Settings {
		if _, ok := current[key]; ok {
			continue
		}
		if err := settings.Put(dbc, key, value); err != nil {
			return createdSpeakers, createdSettings, fmt.Errorf("seed setting %q: %w", key, err)
		}
		createdSettings++
	}
	log.Info("Seed applied", "speakers_created", createdSpeakers, "settings_created", createdSettings)
	return createdSpeakers, createdSettings, nil
}
