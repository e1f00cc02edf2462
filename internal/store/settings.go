package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// EngineSettings selects and parameterizes the generation engine. Admins
// store overrides in the settings table; a running service picks them up
// within the cache TTL.
type EngineSettings struct {
	Name         string
	Endpoint     string
	SystemPrompt string
}

// Settings table keys.
const (
	settingEngineName   = "engine.name"
	settingEndpoint     = "engine.endpoint"
	settingSystemPrompt = "engine.system_prompt"
)

const settingsCacheKey = "engine_settings"

// EngineSettings returns the effective engine settings: table values where
// present, the configured fallback otherwise. Reads are cached briefly so
// every reply does not hit the settings table.
func (s *Store) EngineSettings() (EngineSettings, error) {
	if cached, ok := s.settings.Get(settingsCacheKey); ok {
		return cached.(EngineSettings), nil
	}

	s.mu.RLock()
	out := s.fallback
	s.mu.RUnlock()
	for key, dst := range map[string]*string{
		settingEngineName:   &out.Name,
		settingEndpoint:     &out.Endpoint,
		settingSystemPrompt: &out.SystemPrompt,
	} {
		value, err := s.setting(key)
		if err != nil {
			return EngineSettings{}, err
		}
		if value != "" {
			*dst = value
		}
	}

	s.settings.SetDefault(settingsCacheKey, out)
	return out, nil
}

// SetEngineSettings persists overrides and invalidates the cache.
// Empty fields clear the override so the fallback applies again.
func (s *Store) SetEngineSettings(settings EngineSettings) error {
	for key, value := range map[string]string{
		settingEngineName:   settings.Name,
		settingEndpoint:     settings.Endpoint,
		settingSystemPrompt: settings.SystemPrompt,
	} {
		if value == "" {
			if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
				return fmt.Errorf("clearing setting %s: %w", key, err)
			}
			continue
		}
		if _, err := s.db.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		); err != nil {
			return fmt.Errorf("writing setting %s: %w", key, err)
		}
	}
	s.settings.Delete(settingsCacheKey)
	return nil
}

// setting reads a single settings row, returning "" when absent.
func (s *Store) setting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}
