package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nehcuh/cherryquant/internal/config"
)

// Format selects the serialization for import/export
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Export serializes a config for backup or sharing
func Export(c *Config, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	case FormatYAML, "":
		return yaml.Marshal(c)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportFile writes a config to a file, choosing the format from the
// extension.
func ExportFile(c *Config, path string) error {
	format := FormatYAML
	if len(path) > 5 && path[len(path)-5:] == ".json" {
		format = FormatJSON
	}
	data, err := Export(c, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write strategy file: %w", err)
	}
	return nil
}

// Import parses and validates a config. A missing strategy id gets a
// fresh one so exported configs can be re-imported as new strategies.
func Import(data []byte, format Format, pools config.Pools) (*Config, error) {
	var c Config
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &c)
	case FormatYAML, "":
		err = yaml.Unmarshal(data, &c)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse strategy config: %w", err)
	}

	if c.StrategyID == "" {
		c.StrategyID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = time.Now().UTC()
	if c.Version == 0 {
		c.Version = 1
	}

	if err := c.Validate(pools); err != nil {
		return nil, err
	}
	return &c, nil
}

// ImportFile reads and validates a config file, choosing the format
// from the extension.
func ImportFile(path string, pools config.Pools) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	format := FormatYAML
	if len(path) > 5 && path[len(path)-5:] == ".json" {
		format = FormatJSON
	}
	return Import(data, format, pools)
}
