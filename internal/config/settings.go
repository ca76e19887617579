package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/spatial.report/internal/arframe"
)

// maxSettingsFileSize bounds how much of a settings file we are willing to
// read; a capture settings file is a few hundred bytes.
const maxSettingsFileSize = 1 << 20

// Settings is the file-level configuration for the capture service. All
// fields are pointers so a partial JSON file only overrides what it names;
// omitted fields keep their code-side defaults.
type Settings struct {
	// Capture parameters.
	Enabled *bool    `json:"enabled,omitempty"`
	Width   *int     `json:"width,omitempty"`
	Height  *int     `json:"height,omitempty"`
	FPS     *float64 `json:"fps,omitempty"`
	Quality *float64 `json:"quality,omitempty"`

	// Service parameters.
	RingCapacity *int    `json:"ring_capacity,omitempty"`
	EventBuffer  *int    `json:"event_buffer,omitempty"`
	ListenAddr   *string `json:"listen_addr,omitempty"`
	DBPath       *string `json:"db_path,omitempty"`
}

// EmptySettings returns a Settings with all fields nil.
func EmptySettings() *Settings { return &Settings{} }

// LoadSettings reads a Settings from a JSON file. The path must have a
// .json extension and the file must parse strictly (unknown fields are an
// error, catching typos in hand-edited configs).
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat settings file: %w", err)
	}
	if info.Size() > maxSettingsFileSize {
		return nil, fmt.Errorf("settings file %s exceeds %d bytes", cleanPath, maxSettingsFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var s Settings
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", cleanPath, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", cleanPath, err)
	}
	return &s, nil
}

// ApplyEnv overrides settings from environment variables (ARFRAME_WIDTH,
// ARFRAME_HEIGHT, ARFRAME_FPS, ARFRAME_QUALITY, ARFRAME_LISTEN_ADDR,
// ARFRAME_DB_PATH). Invalid values are reported, not silently skipped.
func (s *Settings) ApplyEnv() error {
	if v := os.Getenv("ARFRAME_WIDTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ARFRAME_WIDTH: %w", err)
		}
		s.Width = &n
	}
	if v := os.Getenv("ARFRAME_HEIGHT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ARFRAME_HEIGHT: %w", err)
		}
		s.Height = &n
	}
	if v := os.Getenv("ARFRAME_FPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ARFRAME_FPS: %w", err)
		}
		s.FPS = &f
	}
	if v := os.Getenv("ARFRAME_QUALITY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ARFRAME_QUALITY: %w", err)
		}
		s.Quality = &f
	}
	if v := os.Getenv("ARFRAME_LISTEN_ADDR"); v != "" {
		s.ListenAddr = &v
	}
	if v := os.Getenv("ARFRAME_DB_PATH"); v != "" {
		s.DBPath = &v
	}
	return s.Validate()
}

// Validate rejects values outside the capture contract.
func (s *Settings) Validate() error {
	if s.Width != nil && *s.Width < 1 {
		return fmt.Errorf("width must be positive, got %d", *s.Width)
	}
	if s.Height != nil && *s.Height < 1 {
		return fmt.Errorf("height must be positive, got %d", *s.Height)
	}
	if s.FPS != nil && (*s.FPS < 1 || *s.FPS > 5) {
		return fmt.Errorf("fps must be in [1,5], got %g", *s.FPS)
	}
	if s.Quality != nil && (*s.Quality <= 0 || *s.Quality > 1) {
		return fmt.Errorf("quality must be in (0,1], got %g", *s.Quality)
	}
	if s.RingCapacity != nil && *s.RingCapacity < 1 {
		return fmt.Errorf("ring_capacity must be positive, got %d", *s.RingCapacity)
	}
	if s.EventBuffer != nil && *s.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be positive, got %d", *s.EventBuffer)
	}
	return nil
}

// CaptureConfig materializes the capture parameters; unset fields stay
// zero and pick up the capture service's defaults.
func (s *Settings) CaptureConfig() arframe.CaptureConfig {
	var c arframe.CaptureConfig
	if s.Enabled != nil {
		c.Enabled = *s.Enabled
	}
	if s.Width != nil {
		c.Width = *s.Width
	}
	if s.Height != nil {
		c.Height = *s.Height
	}
	if s.FPS != nil {
		c.FPS = *s.FPS
	}
	if s.Quality != nil {
		c.Quality = *s.Quality
	}
	return c
}

// Merge overlays other onto s; fields set in other win.
func (s *Settings) Merge(other *Settings) {
	if other == nil {
		return
	}
	if other.Enabled != nil {
		s.Enabled = other.Enabled
	}
	if other.Width != nil {
		s.Width = other.Width
	}
	if other.Height != nil {
		s.Height = other.Height
	}
	if other.FPS != nil {
		s.FPS = other.FPS
	}
	if other.Quality != nil {
		s.Quality = other.Quality
	}
	if other.RingCapacity != nil {
		s.RingCapacity = other.RingCapacity
	}
	if other.EventBuffer != nil {
		s.EventBuffer = other.EventBuffer
	}
	if other.ListenAddr != nil {
		s.ListenAddr = other.ListenAddr
	}
	if other.DBPath != nil {
		s.DBPath = other.DBPath
	}
}
