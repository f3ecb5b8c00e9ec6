package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jedrekdomanski/ai-caption-craft/internal/identity"
	"github.com/jedrekdomanski/ai-caption-craft/internal/logger"
	"github.com/jedrekdomanski/ai-caption-craft/internal/stacksettings"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/imagestack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

func testIdentity(t *testing.T) identity.DeploymentIdentity {
	t.Helper()
	id, err := identity.ResolveFrom("123456789012", "test", "us-east-1", "test", imagestack.DefaultStackName)
	if err != nil {
		t.Fatalf("ResolveFrom() error = %v", err)
	}
	return id
}

func clearSettingsEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_PREFIX", "")
	t.Setenv("CAPTION_CONFIG", "")
	t.Setenv("CAPTION_ROLLOUT", "")
}

func TestBuildGraphDefaults(t *testing.T) {
	clearSettingsEnv(t)
	graph, err := buildGraph(stacksettings.Resolve("", "", ""), testIdentity(t))
	if err != nil {
		t.Fatalf("buildGraph() error = %v", err)
	}
	if got := len(graph.Functions()); got != 2 {
		t.Fatalf("functions = %d, want 2", got)
	}
	if graph.Context().Region != "us-east-1" {
		t.Fatalf("context = %+v", graph.Context())
	}
}

func TestBuildGraphRolloutOverridesConfig(t *testing.T) {
	clearSettingsEnv(t)
	path := filepath.Join(t.TempDir(), "stack.yml")
	if err := os.WriteFile(path, []byte("rollout: full\nimage_bucket: captions-dev\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	graph, err := buildGraph(stacksettings.Resolve(path, "storage", ""), testIdentity(t))
	if err != nil {
		t.Fatalf("buildGraph() error = %v", err)
	}
	buckets := graph.Buckets()
	if len(buckets) != 2 || buckets[1].ID != "captions-dev-resized" {
		t.Fatalf("unexpected buckets: %+v", buckets)
	}
	if len(graph.Functions()) != 0 {
		t.Fatalf("storage rollout declared functions")
	}
}

func TestBuildGraphReportsDeclarationErrors(t *testing.T) {
	clearSettingsEnv(t)
	path := filepath.Join(t.TempDir(), "stack.yml")
	content := "image_bucket: 9-bad\nremoval:\n  resized_bucket: snapshot\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := buildGraph(stacksettings.Resolve(path, "", ""), testIdentity(t))
	if err == nil {
		t.Fatal("expected declaration errors")
	}
	decls := stackgraph.DeclarationErrors(err)
	if len(decls) < 2 {
		t.Fatalf("declaration errors = %d, want at least 2: %v", len(decls), err)
	}

	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
	var buf bytes.Buffer
	slog.SetDefault(logger.New(&buf, "info", "text"))
	reportDeclarationErrors(err)
	if got := strings.Count(buf.String(), "invalid declaration"); got != len(decls) {
		t.Fatalf("logged %d declaration lines, want %d:\n%s", got, len(decls), buf.String())
	}
}

func TestBuildGraphEnvironmentRolloutBeatsContext(t *testing.T) {
	clearSettingsEnv(t)
	t.Setenv("CAPTION_ROLLOUT", "storage")

	graph, err := buildGraph(stacksettings.Resolve("", "", "full"), testIdentity(t))
	if err != nil {
		t.Fatalf("buildGraph() error = %v", err)
	}
	if len(graph.Functions()) != 0 || len(graph.Tables()) != 0 {
		t.Fatalf("environment rollout ignored: %d functions, %d tables", len(graph.Functions()), len(graph.Tables()))
	}
}

func TestBuildGraphRejectsUnknownRollout(t *testing.T) {
	clearSettingsEnv(t)
	if _, err := buildGraph(stacksettings.Resolve("", "canary", ""), testIdentity(t)); err == nil {
		t.Fatal("expected unknown rollout to fail")
	}
}
