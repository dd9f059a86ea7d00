// Package config loads the engine configuration file.
//
// Every field is optional: the Get* accessors fall back to the built-in
// defaults, so a partial file only overrides what it names.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/stream"
	"github.com/banshee-data/fleettrack/internal/trail"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Source kinds.
const (
	SourceWebSocket = "websocket"
	SourceKafka     = "kafka"
	SourceNMEA      = "nmea"

	PollREST   = "rest"
	PollGTFSRT = "gtfsrt"
)

// SourceConfig selects the push source.
type SourceConfig struct {
	Kind     string             `json:"kind" yaml:"kind" validate:"omitempty,oneof=websocket kafka nmea"`
	URL      string             `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	Token    string             `json:"token,omitempty" yaml:"token,omitempty"`
	Brokers  []string           `json:"brokers,omitempty" yaml:"brokers,omitempty" validate:"omitempty,dive,hostname_port"`
	Topic    string             `json:"topic,omitempty" yaml:"topic,omitempty"`
	GroupID  string             `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	Device   string             `json:"device,omitempty" yaml:"device,omitempty"`
	EntityID string             `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Serial   source.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// PollConfig selects the poll fallback fetcher.
type PollConfig struct {
	Kind  string `json:"kind" yaml:"kind" validate:"omitempty,oneof=rest gtfsrt"`
	URL   string `json:"url" yaml:"url" validate:"omitempty,url"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// EngineConfig is the root of the configuration file.
type EngineConfig struct {
	// Stream processor
	FlushDelay       *string `json:"flush_delay,omitempty" yaml:"flush_delay,omitempty" validate:"omitempty,duration"`
	WatchdogInterval *string `json:"watchdog_interval,omitempty" yaml:"watchdog_interval,omitempty" validate:"omitempty,duration"`
	SilenceThreshold *string `json:"silence_threshold,omitempty" yaml:"silence_threshold,omitempty" validate:"omitempty,duration"`
	PollInterval     *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty" validate:"omitempty,duration"`

	// Trails
	TrailMaxPoints *int    `json:"trail_max_points,omitempty" yaml:"trail_max_points,omitempty" validate:"omitempty,min=2,max=10000"`
	TrailWindow    *string `json:"trail_window,omitempty" yaml:"trail_window,omitempty" validate:"omitempty,duration"`

	// Status classification
	MovingSpeed  *float64 `json:"moving_speed,omitempty" yaml:"moving_speed,omitempty" validate:"omitempty,gte=0"`
	OfflineAfter *string  `json:"offline_after,omitempty" yaml:"offline_after,omitempty" validate:"omitempty,duration"`

	// Road snapping
	OSRMURL       *string `json:"osrm_url,omitempty" yaml:"osrm_url,omitempty" validate:"omitempty,url"`
	OSRMProfile   *string `json:"osrm_profile,omitempty" yaml:"osrm_profile,omitempty" validate:"omitempty,oneof=driving car bike foot"`
	SnapChunkSize *int    `json:"snap_chunk_size,omitempty" yaml:"snap_chunk_size,omitempty" validate:"omitempty,min=2,max=100"`
	SnapDelay     *string `json:"snap_delay,omitempty" yaml:"snap_delay,omitempty" validate:"omitempty,duration"`

	// Collaborators
	Source        *SourceConfig `json:"source,omitempty" yaml:"source,omitempty"`
	Poll          *PollConfig   `json:"poll,omitempty" yaml:"poll,omitempty"`
	DirectoryURL  *string       `json:"directory_url,omitempty" yaml:"directory_url,omitempty" validate:"omitempty,url"`
	HistoryPath   *string       `json:"history_path,omitempty" yaml:"history_path,omitempty"`
	RecordHistory *bool         `json:"record_history,omitempty" yaml:"record_history,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyEngineConfig returns a config with every field unset.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// DefaultEngineConfig returns a config with every field set to its default.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		FlushDelay:       ptrString("250ms"),
		WatchdogInterval: ptrString("1s"),
		SilenceThreshold: ptrString("10s"),
		PollInterval:     ptrString("3s"),
		TrailMaxPoints:   ptrInt(60),
		TrailWindow:      ptrString("5m"),
		MovingSpeed:      ptrFloat64(2),
		OfflineAfter:     ptrString("10m"),
		OSRMProfile:      ptrString("driving"),
		SnapChunkSize:    ptrInt(100),
		SnapDelay:        ptrString("100ms"),
		HistoryPath:      ptrString("fleettrack.db"),
		RecordHistory:    ptrBool(true),
	}
}

// Load reads a .json, .yaml or .yml config file and validates it.
func Load(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c *EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.GetSilenceThreshold() < c.GetWatchdogInterval() {
		return fmt.Errorf("silence_threshold %v must be at least watchdog_interval %v",
			c.GetSilenceThreshold(), c.GetWatchdogInterval())
	}
	if s := c.Source; s != nil {
		switch s.Kind {
		case SourceWebSocket:
			if s.URL == "" {
				return errors.New("source.url is required for websocket sources")
			}
		case SourceKafka:
			if len(s.Brokers) == 0 || s.Topic == "" {
				return errors.New("source.brokers and source.topic are required for kafka sources")
			}
		case SourceNMEA:
			if s.Device == "" || s.EntityID == "" {
				return errors.New("source.device and source.entity_id are required for nmea sources")
			}
			if _, err := s.Serial.Normalize(); err != nil {
				return fmt.Errorf("source.serial: %w", err)
			}
		}
	}
	if p := c.Poll; p != nil && p.Kind != "" && p.URL == "" {
		return fmt.Errorf("poll.url is required for %s polling", p.Kind)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetFlushDelay returns flush_delay or 250ms.
func (c *EngineConfig) GetFlushDelay() time.Duration {
	return durationOr(c.FlushDelay, 250*time.Millisecond)
}

// GetWatchdogInterval returns watchdog_interval or 1s.
func (c *EngineConfig) GetWatchdogInterval() time.Duration {
	return durationOr(c.WatchdogInterval, time.Second)
}

// GetSilenceThreshold returns silence_threshold or 10s.
func (c *EngineConfig) GetSilenceThreshold() time.Duration {
	return durationOr(c.SilenceThreshold, 10*time.Second)
}

// GetPollInterval returns poll_interval or 3s.
func (c *EngineConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 3*time.Second)
}

// GetTrailMaxPoints returns trail_max_points or 60.
func (c *EngineConfig) GetTrailMaxPoints() int {
	if c.TrailMaxPoints == nil {
		return 60
	}
	return *c.TrailMaxPoints
}

// GetTrailWindow returns trail_window or 5m.
func (c *EngineConfig) GetTrailWindow() time.Duration {
	return durationOr(c.TrailWindow, 5*time.Minute)
}

// GetMovingSpeed returns moving_speed or 2.
func (c *EngineConfig) GetMovingSpeed() float64 {
	if c.MovingSpeed == nil {
		return 2
	}
	return *c.MovingSpeed
}

// GetOfflineAfter returns offline_after or 10m.
func (c *EngineConfig) GetOfflineAfter() time.Duration {
	return durationOr(c.OfflineAfter, 10*time.Minute)
}

// GetOSRMURL returns osrm_url; empty disables road snapping.
func (c *EngineConfig) GetOSRMURL() string {
	if c.OSRMURL == nil {
		return ""
	}
	return *c.OSRMURL
}

// GetOSRMProfile returns osrm_profile or "driving".
func (c *EngineConfig) GetOSRMProfile() string {
	if c.OSRMProfile == nil || *c.OSRMProfile == "" {
		return "driving"
	}
	return *c.OSRMProfile
}

// GetSnapChunkSize returns snap_chunk_size or 100.
func (c *EngineConfig) GetSnapChunkSize() int {
	if c.SnapChunkSize == nil {
		return 100
	}
	return *c.SnapChunkSize
}

// GetSnapDelay returns snap_delay or 100ms.
func (c *EngineConfig) GetSnapDelay() time.Duration {
	return durationOr(c.SnapDelay, 100*time.Millisecond)
}

// GetSource returns the push source section, or a zero value when absent.
func (c *EngineConfig) GetSource() SourceConfig {
	if c.Source == nil {
		return SourceConfig{}
	}
	return *c.Source
}

// GetPoll returns the poll fallback section, or a zero value when absent.
func (c *EngineConfig) GetPoll() PollConfig {
	if c.Poll == nil {
		return PollConfig{}
	}
	return *c.Poll
}

// GetDirectoryURL returns directory_url; empty means no directory.
func (c *EngineConfig) GetDirectoryURL() string {
	if c.DirectoryURL == nil {
		return ""
	}
	return *c.DirectoryURL
}

// GetHistoryPath returns history_path or "fleettrack.db".
func (c *EngineConfig) GetHistoryPath() string {
	if c.HistoryPath == nil || *c.HistoryPath == "" {
		return "fleettrack.db"
	}
	return *c.HistoryPath
}

// GetRecordHistory returns record_history or true.
func (c *EngineConfig) GetRecordHistory() bool {
	if c.RecordHistory == nil {
		return true
	}
	return *c.RecordHistory
}

// StreamConfig assembles the stream processor timings.
func (c *EngineConfig) StreamConfig() stream.Config {
	return stream.Config{
		FlushDelay:       c.GetFlushDelay(),
		WatchdogInterval: c.GetWatchdogInterval(),
		SilenceThreshold: c.GetSilenceThreshold(),
		PollInterval:     c.GetPollInterval(),
	}
}

// TrailConfig assembles the trail bounds.
func (c *EngineConfig) TrailConfig() trail.Config {
	return trail.Config{MaxPoints: c.GetTrailMaxPoints(), Window: c.GetTrailWindow()}
}

// ClassifyOptions assembles the status thresholds.
func (c *EngineConfig) ClassifyOptions() position.ClassifyOptions {
	return position.ClassifyOptions{MovingSpeed: c.GetMovingSpeed(), OfflineAfter: c.GetOfflineAfter()}
}
