package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

// Settings holds all user-configurable application settings organized by
// category. They are loaded once and handed to the engine as an immutable
// snapshot; the engine never re-reads configuration mid-session.
type Settings struct {
	General   GeneralSettings   `json:"general"`
	Network   NetworkSettings   `json:"network"`
	Limits    LimitSettings     `json:"limits"`
	Blacklist BlacklistSettings `json:"blacklist"`

	// Credentials maps a source identifier to its API credentials
	// (e621 family, furbooru). Anonymous access when absent.
	Credentials map[string]types.Credentials `json:"user_credentials"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	OutputDir       string `json:"output_dir"`
	OneTimeDownload bool   `json:"one_time_download"`
	HistoryPath     string `json:"history_path"`
}

// NetworkSettings contains connection parameters.
type NetworkSettings struct {
	ConcurrentDownloads int           `json:"concurrent_downloads"`
	FetchTimeout        time.Duration `json:"fetch_timeout"`
	UserAgent           string        `json:"user_agent"`
	UseProxies          bool          `json:"use_proxies"`
	Proxies             []string      `json:"proxies"`
}

// LimitSettings contains rate-limit and retry tuning.
type LimitSettings struct {
	DefaultRate types.Rate            `json:"default_rate"`
	SourceRates map[string]types.Rate `json:"source_rates"`

	MaxAttempts    int           `json:"max_attempts"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay"`
}

// BlacklistSettings filters results by tag or file format before they are
// written to disk.
type BlacklistSettings struct {
	Tags    []string `json:"tags"`
	Formats []string `json:"formats"`
}

// GetHoardrDir returns the per-user state directory.
func GetHoardrDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hoardr"
	}
	return filepath.Join(home, ".hoardr")
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetHoardrDir(), "settings.json")
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	home, _ := os.UserHomeDir()

	return &Settings{
		General: GeneralSettings{
			OutputDir:       filepath.Join(home, "Downloads", "hoardr"),
			OneTimeDownload: true,
			HistoryPath:     filepath.Join(GetHoardrDir(), "history.db"),
		},
		Network: NetworkSettings{
			ConcurrentDownloads: types.DefaultConcurrency,
			FetchTimeout:        types.DefaultFetchTimeout,
			UserAgent:           "hoardr/1.0 (github.com/hoardr-dl/hoardr)",
			UseProxies:          false,
		},
		Limits: LimitSettings{
			DefaultRate: types.DefaultRate,
			SourceRates: map[string]types.Rate{
				// The e6 API asks for at most two requests per second.
				"e621": {Capacity: 2, PerSecond: 2},
				"e926": {Capacity: 2, PerSecond: 2},
			},
			MaxAttempts:    types.DefaultMaxAttempts,
			RetryBaseDelay: 500 * time.Millisecond,
			RetryMaxDelay:  30 * time.Second,
		},
		Blacklist: BlacklistSettings{},
	}
}

// LoadSettings loads settings from disk. Returns defaults if the file
// doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads settings from an explicit path.
func LoadSettingsFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	return SaveSettingsTo(GetSettingsPath(), s)
}

// SaveSettingsTo saves settings to an explicit path atomically.
func SaveSettingsTo(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// ToSessionConfig converts Settings to the immutable snapshot the engine
// receives at session start.
func (s *Settings) ToSessionConfig() types.SessionConfig {
	cfg := types.SessionConfig{
		OutputRoot:       s.General.OutputDir,
		Concurrency:      s.Network.ConcurrentDownloads,
		FetchTimeout:     s.Network.FetchTimeout,
		UserAgent:        s.Network.UserAgent,
		DefaultRate:      s.Limits.DefaultRate,
		SourceRates:      s.Limits.SourceRates,
		Proxies:          s.Network.Proxies,
		UseProxies:       s.Network.UseProxies,
		BlacklistTags:    s.Blacklist.Tags,
		BlacklistFormats: s.Blacklist.Formats,
		MaxAttempts:      s.Limits.MaxAttempts,
		RetryBaseDelay:   s.Limits.RetryBaseDelay,
		RetryMaxDelay:    s.Limits.RetryMaxDelay,
		OneTimeDownload:  s.General.OneTimeDownload,
		HistoryPath:      s.General.HistoryPath,
		Credentials:      s.Credentials,
	}
	return cfg.Normalized()
}
