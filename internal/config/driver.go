// Package config loads the urg-monitor driver configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/scip2/internal/scip2"
)

// Acquisition modes.
const (
	ModeMS = "ms"
	ModeND = "nd"
)

// DriverConfig is the JSON configuration of one sensor. Every field is
// optional; the Get* methods supply defaults for omitted ones.
type DriverConfig struct {
	// Link
	Target         *string `json:"target,omitempty"` // serial path, tcp://host:port or pcap://file
	Bitrate        *int    `json:"bitrate,omitempty"`
	ReadTimeout    *string `json:"read_timeout,omitempty"` // duration string like "600ms"
	VerifyChecksum *bool   `json:"verify_checksum,omitempty"`
	ReplayPort     *int    `json:"replay_port,omitempty"`

	// Acquisition
	StartStep *int    `json:"start_step,omitempty"`
	EndStep   *int    `json:"end_step,omitempty"`
	Group     *int    `json:"group,omitempty"`
	Cull      *int    `json:"cull,omitempty"`
	ScanCount *int    `json:"scan_count,omitempty"` // 0 streams until stopped
	Encoding  *string `json:"encoding,omitempty"`   // "2", "3" or "3x2"
	Mode      *string `json:"mode,omitempty"`       // "ms" or "nd"
	Deboost   *int    `json:"deboost,omitempty"`    // -1 leaves the motor speed alone

	// Monitor
	Listen *string `json:"listen,omitempty"`
	Debug  *bool   `json:"debug,omitempty"`
}

// LoadDriverConfig loads a DriverConfig from a JSON file. The file must have
// a .json extension and be under 1MB.
func LoadDriverConfig(path string) (*DriverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DriverConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *DriverConfig) Validate() error {
	if c.Target != nil && *c.Target == "" {
		return fmt.Errorf("target must not be empty")
	}
	if c.Bitrate != nil && *c.Bitrate < 0 {
		return fmt.Errorf("bitrate must be non-negative, got %d", *c.Bitrate)
	}
	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		if _, err := time.ParseDuration(*c.ReadTimeout); err != nil {
			return fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
	}
	if c.ReplayPort != nil && (*c.ReplayPort <= 0 || *c.ReplayPort > 65535) {
		return fmt.Errorf("replay_port must be between 1 and 65535, got %d", *c.ReplayPort)
	}

	start, end := c.GetStartStep(), c.GetEndStep()
	if start < 0 || end > 9999 || start > end {
		return fmt.Errorf("start_step %d and end_step %d must satisfy 0 <= start <= end <= 9999", start, end)
	}
	if g := c.GetGroup(); g < 0 || g > 99 {
		return fmt.Errorf("group must be between 0 and 99, got %d", g)
	}
	if cull := c.GetCull(); cull < 0 || cull > 9 {
		return fmt.Errorf("cull must be between 0 and 9, got %d", cull)
	}
	if n := c.GetScanCount(); n < 0 || n > 99 {
		return fmt.Errorf("scan_count must be between 0 and 99, got %d", n)
	}
	if c.Encoding != nil {
		enc, err := scip2.ParseEncoding(*c.Encoding)
		if err != nil {
			return fmt.Errorf("invalid encoding: %w", err)
		}
		if enc == scip2.Encoding4 {
			return fmt.Errorf("encoding %q is not available for range data", *c.Encoding)
		}
	}
	switch mode := c.GetMode(); mode {
	case ModeMS:
	case ModeND:
		if c.GetEncoding() == scip2.Encoding2 {
			return fmt.Errorf("mode %q requires encoding \"3\" or \"3x2\"", mode)
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeMS, ModeND, mode)
	}
	if d := c.GetDeboost(); d < -1 || d > 99 {
		return fmt.Errorf("deboost must be between -1 and 99, got %d", d)
	}
	return nil
}

// GetTarget returns the device target or the default.
func (c *DriverConfig) GetTarget() string {
	if c.Target == nil {
		return "/dev/ttyACM0"
	}
	return *c.Target
}

// GetBitrate returns the operating bitrate or the default.
func (c *DriverConfig) GetBitrate() int {
	if c.Bitrate == nil {
		return 115200
	}
	return *c.Bitrate
}

// GetReadTimeout parses and returns ReadTimeout as a time.Duration.
func (c *DriverConfig) GetReadTimeout() time.Duration {
	if c.ReadTimeout == nil || *c.ReadTimeout == "" {
		return 600 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.ReadTimeout)
	if err != nil {
		return 600 * time.Millisecond // default on parse error
	}
	return d
}

// GetVerifyChecksum returns the verify_checksum value or the default.
func (c *DriverConfig) GetVerifyChecksum() bool {
	if c.VerifyChecksum == nil {
		return false
	}
	return *c.VerifyChecksum
}

// GetReplayPort returns the device-side port of pcap replays.
func (c *DriverConfig) GetReplayPort() uint16 {
	if c.ReplayPort == nil {
		return 10940
	}
	return uint16(*c.ReplayPort)
}

// GetStartStep returns the start_step value or the default.
func (c *DriverConfig) GetStartStep() int {
	if c.StartStep == nil {
		return 44
	}
	return *c.StartStep
}

// GetEndStep returns the end_step value or the default.
func (c *DriverConfig) GetEndStep() int {
	if c.EndStep == nil {
		return 725
	}
	return *c.EndStep
}

// GetGroup returns the group value or the default.
func (c *DriverConfig) GetGroup() int {
	if c.Group == nil {
		return 1
	}
	return *c.Group
}

// GetCull returns the cull value or the default.
func (c *DriverConfig) GetCull() int {
	if c.Cull == nil {
		return 0
	}
	return *c.Cull
}

// GetScanCount returns the scan_count value or the default.
func (c *DriverConfig) GetScanCount() int {
	if c.ScanCount == nil {
		return 0 // stream until stopped
	}
	return *c.ScanCount
}

// GetEncoding returns the parsed encoding, or the 2-character encoding if
// unset or invalid.
func (c *DriverConfig) GetEncoding() scip2.Encoding {
	if c.Encoding == nil {
		return scip2.Encoding2
	}
	enc, err := scip2.ParseEncoding(*c.Encoding)
	if err != nil {
		return scip2.Encoding2
	}
	return enc
}

// GetMode returns the acquisition mode or the default.
func (c *DriverConfig) GetMode() string {
	if c.Mode == nil {
		return ModeMS
	}
	return *c.Mode
}

// GetDeboost returns the deboost value or the default.
func (c *DriverConfig) GetDeboost() int {
	if c.Deboost == nil {
		return -1 // leave the motor speed alone
	}
	return *c.Deboost
}

// GetListen returns the debug HTTP listen address or the default.
func (c *DriverConfig) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetDebug returns the debug value or the default.
func (c *DriverConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}
