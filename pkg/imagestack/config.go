// Where: pkg/imagestack/config.go
// What: Tunables of the image-labeling stack and their YAML loader.
// Why: The stack revisions disagree on table presence, compute, and teardown behavior; keep those as policy, not code.
package imagestack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
	"gopkg.in/yaml.v3"
)

// Rollout selects how much of the pipeline is declared.
type Rollout string

const (
	// RolloutStorage declares the image and resized buckets only.
	RolloutStorage Rollout = "storage"
	// RolloutTable adds the labels table.
	RolloutTable Rollout = "table"
	// RolloutFull adds the layer, both functions, the event binding and the gateway.
	RolloutFull Rollout = "full"
)

func (r Rollout) Valid() bool {
	switch r {
	case RolloutStorage, RolloutTable, RolloutFull:
		return true
	default:
		return false
	}
}

type Config struct {
	Rollout     Rollout `yaml:"rollout"`
	ImageBucket string  `yaml:"image_bucket"`
	// IncludeTable and IncludeCompute override what Rollout implies.
	IncludeTable   *bool           `yaml:"include_table,omitempty"`
	IncludeCompute *bool           `yaml:"include_compute,omitempty"`
	Removal        RemovalConfig   `yaml:"removal"`
	Functions      FunctionsConfig `yaml:"functions"`
	Gateway        GatewayConfig   `yaml:"gateway"`
}

type RemovalConfig struct {
	ImageBucket stackgraph.RemovalPolicy `yaml:"image_bucket"`
	// AutoDeleteImages empties the image bucket on teardown. Defaults to true only for RolloutFull.
	AutoDeleteImages *bool                    `yaml:"auto_delete_images,omitempty"`
	ResizedBucket    stackgraph.RemovalPolicy `yaml:"resized_bucket"`
	Table            stackgraph.RemovalPolicy `yaml:"table"`
}

type FunctionsConfig struct {
	Runtime           string `yaml:"runtime"`
	Handler           string `yaml:"handler"`
	LayerSource       string `yaml:"layer_source"`
	RecognitionSource string `yaml:"recognition_source"`
	ServiceSource     string `yaml:"service_source"`
}

type GatewayConfig struct {
	Proxy  bool          `yaml:"proxy"`
	Routes []RouteConfig `yaml:"routes,omitempty"`
}

type RouteConfig struct {
	Path    string   `yaml:"path"`
	Methods []string `yaml:"methods"`
}

// DefaultConfig is the complete pipeline as it is deployed today.
func DefaultConfig() Config {
	return Config{
		Rollout:     RolloutFull,
		ImageBucket: DefaultImageBucket,
		Removal: RemovalConfig{
			ImageBucket:   stackgraph.RemovalDestroy,
			ResizedBucket: stackgraph.RemovalDestroy,
			Table:         stackgraph.RemovalDestroy,
		},
		Functions: FunctionsConfig{
			Runtime:           DefaultRuntime,
			Handler:           DefaultHandler,
			LayerSource:       "reklayer",
			RecognitionSource: "rekognitionlambda",
			ServiceSource:     "servicelambda",
		},
		Gateway: GatewayConfig{
			Routes: []RouteConfig{
				{Path: "/images", Methods: []string{"GET"}},
				{Path: "/images/{image}", Methods: []string{"GET", "PUT", "DELETE"}},
			},
		},
	}
}

// TableEnabled reports whether the labels table is declared.
func (c Config) TableEnabled() bool {
	if c.IncludeTable != nil {
		return *c.IncludeTable
	}
	return c.Rollout == RolloutTable || c.Rollout == RolloutFull
}

// ComputeEnabled reports whether functions and the gateway are declared.
func (c Config) ComputeEnabled() bool {
	if c.IncludeCompute != nil {
		return *c.IncludeCompute
	}
	return c.Rollout == RolloutFull
}

func (c Config) AutoDeleteImages() bool {
	if c.Removal.AutoDeleteImages != nil {
		return *c.Removal.AutoDeleteImages
	}
	return c.Rollout == RolloutFull && c.Removal.ImageBucket == stackgraph.RemovalDestroy
}

// withDefaults fills blank fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(string(c.Rollout)) == "" {
		c.Rollout = def.Rollout
	}
	if strings.TrimSpace(c.ImageBucket) == "" {
		c.ImageBucket = def.ImageBucket
	}
	if c.Removal.ImageBucket == "" {
		c.Removal.ImageBucket = def.Removal.ImageBucket
	}
	if c.Removal.ResizedBucket == "" {
		c.Removal.ResizedBucket = def.Removal.ResizedBucket
	}
	if c.Removal.Table == "" {
		c.Removal.Table = def.Removal.Table
	}
	if c.Functions.Runtime == "" {
		c.Functions.Runtime = def.Functions.Runtime
	}
	if c.Functions.Handler == "" {
		c.Functions.Handler = def.Functions.Handler
	}
	if c.Functions.LayerSource == "" {
		c.Functions.LayerSource = def.Functions.LayerSource
	}
	if c.Functions.RecognitionSource == "" {
		c.Functions.RecognitionSource = def.Functions.RecognitionSource
	}
	if c.Functions.ServiceSource == "" {
		c.Functions.ServiceSource = def.Functions.ServiceSource
	}
	if !c.Gateway.Proxy && len(c.Gateway.Routes) == 0 {
		c.Gateway.Routes = def.Gateway.Routes
	}
	return c
}

func (c Config) Validate() error {
	if !c.Rollout.Valid() {
		return fmt.Errorf("rollout %q is not one of %s, %s, %s", c.Rollout, RolloutStorage, RolloutTable, RolloutFull)
	}
	if strings.TrimSpace(c.ImageBucket) == "" {
		return fmt.Errorf("image_bucket is required")
	}
	if c.ComputeEnabled() {
		required := []struct{ field, value string }{
			{"functions.runtime", c.Functions.Runtime},
			{"functions.handler", c.Functions.Handler},
			{"functions.layer_source", c.Functions.LayerSource},
			{"functions.recognition_source", c.Functions.RecognitionSource},
			{"functions.service_source", c.Functions.ServiceSource},
		}
		for _, r := range required {
			if strings.TrimSpace(r.value) == "" {
				return fmt.Errorf("%s is required when compute is included", r.field)
			}
		}
	}
	for i, route := range c.Gateway.Routes {
		if strings.TrimSpace(route.Path) == "" {
			return fmt.Errorf("gateway.routes[%d].path is required", i)
		}
		if len(route.Methods) == 0 {
			return fmt.Errorf("gateway.routes[%d].methods must contain at least one entry", i)
		}
	}
	return nil
}

// LoadConfig reads a YAML stack config. Blank fields take their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read stack config: %s: %w", path, err)
		}
		return Config{}, err
	}
	return DecodeConfig(data)
}

func DecodeConfig(data []byte) (Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode stack config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
