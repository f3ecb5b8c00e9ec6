// Where: internal/stacksettings/stacksettings.go
// What: Config path and rollout resolution shared by the CDK app and stackctl.
// Why: Both binaries must declare the same graph from the same inputs.
package stacksettings

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedrekdomanski/ai-caption-craft/internal/envutil"
	"github.com/jedrekdomanski/ai-caption-craft/internal/identity"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/imagestack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

const (
	SuffixConfig  = "CONFIG"
	SuffixRollout = "ROLLOUT"

	SourceFlag    = "flag"
	SourceContext = "context"
	SourceConfig  = "config"
)

// Settings names the config file and rollout a stack is declared from.
// An empty Rollout keeps whatever the config file says.
type Settings struct {
	ConfigPath    string
	Rollout       string
	RolloutSource string
}

// Resolve picks each value from the first non-empty source:
// the flag, then the prefixed environment variable, then the CDK context (rollout only).
func Resolve(configFlag, rolloutFlag, contextRollout string) Settings {
	s := Settings{ConfigPath: strings.TrimSpace(configFlag)}
	if s.ConfigPath == "" {
		s.ConfigPath = envutil.Get(SuffixConfig)
	}

	switch {
	case strings.TrimSpace(rolloutFlag) != "":
		s.Rollout, s.RolloutSource = strings.TrimSpace(rolloutFlag), SourceFlag
	case envutil.Get(SuffixRollout) != "":
		s.Rollout, s.RolloutSource = envutil.Get(SuffixRollout), envutil.PrefixedKey(SuffixRollout)
	case strings.TrimSpace(contextRollout) != "":
		s.Rollout, s.RolloutSource = strings.TrimSpace(contextRollout), SourceContext
	default:
		s.RolloutSource = SourceConfig
	}
	return s
}

// Config loads the config file, or the defaults when none is set, and applies the rollout.
func (s Settings) Config() (imagestack.Config, error) {
	cfg := imagestack.DefaultConfig()
	if s.ConfigPath != "" {
		loaded, err := imagestack.LoadConfig(s.ConfigPath)
		if err != nil {
			return imagestack.Config{}, err
		}
		cfg = loaded
	}
	if s.Rollout != "" {
		cfg.Rollout = imagestack.Rollout(s.Rollout)
	}
	return cfg, nil
}

// Declare builds the validated graph for id and reports the rollout it was built with.
func (s Settings) Declare(id identity.DeploymentIdentity) (*stackgraph.Graph, imagestack.Rollout, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, "", err
	}
	graph, err := imagestack.Define(id.Context(), cfg)
	if err != nil {
		return nil, "", fmt.Errorf("declare %s: %w", id.StackName, err)
	}
	return graph, cfg.Rollout, nil
}

// Export writes the settings to the prefixed variables so a child app resolves the same values.
// The config path is made absolute since the child may run from another directory.
func (s Settings) Export(rollout imagestack.Rollout) error {
	if s.ConfigPath != "" {
		abs, err := filepath.Abs(s.ConfigPath)
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		if err := envutil.SetCompatEnv(SuffixConfig, "", abs); err != nil {
			return err
		}
	}
	if rollout != "" {
		return envutil.SetCompatEnv(SuffixRollout, "", string(rollout))
	}
	return nil
}
