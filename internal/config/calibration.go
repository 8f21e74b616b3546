// Package config loads per-instrument calibration values. Reference voltage
// and divider constants differed between board revisions, so nothing in the
// acquisition pipeline hardcodes them: they all flow from here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Calibration holds the per-instrument constants supplied at session start.
// Fields omitted from the JSON file retain their defaults, so partial
// calibration files are safe.
type Calibration struct {
	// OffsetCurrentUA is the zero-input current offset in µA, subtracted
	// from every converted reading.
	OffsetCurrentUA *float64 `json:"offset_current_ua,omitempty"`

	// TIALowOhms and TIAHighOhms are the transimpedance feedback resistors
	// for the two current-range modes.
	TIALowOhms  *float64 `json:"tia_low_ohms,omitempty"`
	TIAHighOhms *float64 `json:"tia_high_ohms,omitempty"`

	// VRefVolts is the analog front-end reference potential.
	VRefVolts *float64 `json:"vref_volts,omitempty"`

	// ADCRefVolts is the transducer's full-scale reference span.
	ADCRefVolts *float64 `json:"adc_ref_volts,omitempty"`

	// ADCFullScale is the raw code corresponding to ADCRefVolts. Board
	// revisions disagreed on this divisor, so it is calibratable.
	ADCFullScale *float64 `json:"adc_full_scale,omitempty"`

	// HardwareLimitVolts bounds the vertex potentials the device accepts.
	HardwareLimitVolts *float64 `json:"hardware_limit_volts,omitempty"`

	// SettlingMillis is the one-time pause after the first ramp step.
	SettlingMillis *int `json:"settling_millis,omitempty"`

	// InitialSkipCount is the number of leading cycle-0 samples suppressed
	// while analog transients decay.
	InitialSkipCount *int `json:"initial_skip_count,omitempty"`

	// SmoothingWindow is the moving-average window applied to currents.
	SmoothingWindow *int `json:"smoothing_window,omitempty"`
}

// Empty returns a Calibration with all fields unset. The Get* methods fall
// back to defaults for any unset field.
func Empty() *Calibration {
	return &Calibration{}
}

// Load reads a Calibration from a JSON file.
func Load(path string) (*Calibration, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("calibration file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	cal := Empty()
	if err := json.Unmarshal(data, cal); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}

	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}

	return cal, nil
}

// Save writes the calibration back to a JSON file. Unset fields are
// omitted, so a saved file stays partial.
func (c *Calibration) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid calibration: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

// Validate checks that the calibration values are physically plausible.
func (c *Calibration) Validate() error {
	if c.TIALowOhms != nil && *c.TIALowOhms <= 0 {
		return fmt.Errorf("tia_low_ohms must be positive, got %f", *c.TIALowOhms)
	}
	if c.TIAHighOhms != nil && *c.TIAHighOhms <= 0 {
		return fmt.Errorf("tia_high_ohms must be positive, got %f", *c.TIAHighOhms)
	}
	if c.VRefVolts != nil && *c.VRefVolts <= 0 {
		return fmt.Errorf("vref_volts must be positive, got %f", *c.VRefVolts)
	}
	if c.ADCRefVolts != nil && *c.ADCRefVolts <= 0 {
		return fmt.Errorf("adc_ref_volts must be positive, got %f", *c.ADCRefVolts)
	}
	if c.ADCFullScale != nil && *c.ADCFullScale <= 0 {
		return fmt.Errorf("adc_full_scale must be positive, got %f", *c.ADCFullScale)
	}
	if c.HardwareLimitVolts != nil && *c.HardwareLimitVolts <= 0 {
		return fmt.Errorf("hardware_limit_volts must be positive, got %f", *c.HardwareLimitVolts)
	}
	if c.SettlingMillis != nil && *c.SettlingMillis < 0 {
		return fmt.Errorf("settling_millis must be non-negative, got %d", *c.SettlingMillis)
	}
	if c.InitialSkipCount != nil && *c.InitialSkipCount < 0 {
		return fmt.Errorf("initial_skip_count must be non-negative, got %d", *c.InitialSkipCount)
	}
	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", *c.SmoothingWindow)
	}
	return nil
}

// GetOffsetCurrentUA returns the offset current or the default.
func (c *Calibration) GetOffsetCurrentUA() float64 {
	if c.OffsetCurrentUA == nil {
		return 0
	}
	return *c.OffsetCurrentUA
}

// SetOffsetCurrentUA stores a freshly measured offset (the CALIBRATE flow).
func (c *Calibration) SetOffsetCurrentUA(offset float64) {
	c.OffsetCurrentUA = &offset
}

// GetTIALowOhms returns the low-gain feedback resistance or the default.
func (c *Calibration) GetTIALowOhms() float64 {
	if c.TIALowOhms == nil {
		return 10_000 // 10 kΩ
	}
	return *c.TIALowOhms
}

// GetTIAHighOhms returns the high-gain feedback resistance or the default.
func (c *Calibration) GetTIAHighOhms() float64 {
	if c.TIAHighOhms == nil {
		return 1_000_000 // 1 MΩ
	}
	return *c.TIAHighOhms
}

// GetVRefVolts returns the front-end reference potential or the default.
func (c *Calibration) GetVRefVolts() float64 {
	if c.VRefVolts == nil {
		return 1.0
	}
	return *c.VRefVolts
}

// GetADCRefVolts returns the transducer reference span or the default.
func (c *Calibration) GetADCRefVolts() float64 {
	if c.ADCRefVolts == nil {
		return 4.096
	}
	return *c.ADCRefVolts
}

// GetADCFullScale returns the full-scale raw code or the default.
func (c *Calibration) GetADCFullScale() float64 {
	if c.ADCFullScale == nil {
		return 32767
	}
	return *c.ADCFullScale
}

// GetHardwareLimitVolts returns the vertex potential bound or the default.
func (c *Calibration) GetHardwareLimitVolts() float64 {
	if c.HardwareLimitVolts == nil {
		return 1.5
	}
	return *c.HardwareLimitVolts
}

// GetSettlingMillis returns the post-first-step settling delay or the default.
func (c *Calibration) GetSettlingMillis() int {
	if c.SettlingMillis == nil {
		return 100
	}
	return *c.SettlingMillis
}

// GetInitialSkipCount returns the skip-window length or the default.
func (c *Calibration) GetInitialSkipCount() int {
	if c.InitialSkipCount == nil {
		return 50
	}
	return *c.InitialSkipCount
}

// GetSmoothingWindow returns the moving-average window or the default.
func (c *Calibration) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 10
	}
	return *c.SmoothingWindow
}
