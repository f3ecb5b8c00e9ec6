package stackmanifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jedrekdomanski/ai-caption-craft/pkg/imagestack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContext = stackgraph.DeploymentContext{Account: "123456789012", Region: "eu-west-1"}

func defineGraph(t *testing.T, cfg imagestack.Config) *stackgraph.Graph {
	t.Helper()
	g, err := imagestack.Define(testContext, cfg)
	require.NoError(t, err)
	return g
}

func TestManifestRoundTrip(t *testing.T) {
	g := defineGraph(t, imagestack.DefaultConfig())
	manifest := FromGraph(imagestack.DefaultStackName, string(imagestack.RolloutFull), g)
	manifest.Generator = Generator{Name: "stackctl", Version: "test"}

	path := filepath.Join(t.TempDir(), "nested", "stack.yml")
	require.NoError(t, Write(path, manifest))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, manifest.Digest, got.Digest)
	assert.Equal(t, manifest.ResourceIDs(), got.ResourceIDs())
	assert.Equal(t, manifest.Permissions, got.Permissions)
	assert.NotEmpty(t, got.GeneratedAt)
	assert.Equal(t, "eu-west-1", got.Region)
	require.NoError(t, Verify(got, g))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestFromGraphRecordsPipeline(t *testing.T) {
	g := defineGraph(t, imagestack.DefaultConfig())
	manifest := FromGraph(imagestack.DefaultStackName, "full", g)

	assert.Equal(t, g.CreationOrder(), manifest.ResourceIDs())
	require.Len(t, manifest.Bindings, 1)
	assert.Equal(t, BindingEntry{Source: "cdk-rekn-imagebucket", Event: "object-created", Target: imagestack.RecognitionFunctionID}, manifest.Bindings[0])

	var recognition PermissionEntry
	for _, p := range manifest.Permissions {
		if p.Grantee == imagestack.RecognitionFunctionID {
			recognition = p
		}
	}
	assert.Len(t, recognition.Grants, 4)
	assert.Contains(t, recognition.Grants, "action:rekognition:DetectLabels@*")

	for _, res := range manifest.Resources {
		if res.ID == imagestack.RecognitionFunctionID {
			assert.Equal(t, "30s", res.Attributes["timeout"])
			assert.Equal(t, "1024", res.Attributes["memory_mb"])
			assert.Equal(t, "BUCKET,RESIZEDBUCKET,TABLE", res.Attributes["env"])
			assert.Contains(t, res.DependsOn, imagestack.LayerID)
		}
		if res.ID == "cdk-rekn-imagebucket" {
			assert.Equal(t, "true", res.Attributes["auto_delete_objects"])
		}
	}
}

func TestVerifyReportsDrift(t *testing.T) {
	stored := FromGraph(imagestack.DefaultStackName, "table", defineGraph(t, func() imagestack.Config {
		cfg := imagestack.DefaultConfig()
		cfg.Rollout = imagestack.RolloutTable
		return cfg
	}()))
	current := defineGraph(t, imagestack.DefaultConfig())

	err := Verify(stored, current)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDrift))

	var drift DriftError
	require.True(t, errors.As(err, &drift))
	assert.Equal(t, []string{imagestack.GatewayID, imagestack.LayerID, imagestack.RecognitionFunctionID, imagestack.ServiceFunctionID}, drift.Added)
	assert.Empty(t, drift.Removed)
	assert.Contains(t, err.Error(), "added: imageAPI, pil")
}

func TestVerifyDetectsContextChange(t *testing.T) {
	g := defineGraph(t, imagestack.DefaultConfig())
	stored := FromGraph(imagestack.DefaultStackName, "full", g)

	moved, err := imagestack.Define(stackgraph.DeploymentContext{Account: "123456789012", Region: "us-east-1"}, imagestack.DefaultConfig())
	require.NoError(t, err)
	err = Verify(stored, moved)
	require.ErrorIs(t, err, ErrDrift)

	var drift DriftError
	require.ErrorAs(t, err, &drift)
	assert.Empty(t, drift.Added)
	assert.Empty(t, drift.Removed)
}

func TestManifestValidate(t *testing.T) {
	valid := func() Manifest {
		return FromGraph(imagestack.DefaultStackName, "full", defineGraph(t, imagestack.DefaultConfig()))
	}
	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr string
	}{
		{name: "valid", mutate: func(*Manifest) {}},
		{name: "schema version", mutate: func(m *Manifest) { m.SchemaVersion = "2" }, wantErr: "unsupported schema_version"},
		{name: "missing schema version", mutate: func(m *Manifest) { m.SchemaVersion = " " }, wantErr: "schema_version is required"},
		{name: "missing stack", mutate: func(m *Manifest) { m.Stack = "" }, wantErr: "stack is required"},
		{name: "bad digest", mutate: func(m *Manifest) { m.Digest = "abc" }, wantErr: "digest must be 64"},
		{name: "bad template hash", mutate: func(m *Manifest) { m.TemplateSHA256 = "XYZ" }, wantErr: "template_sha256"},
		{name: "no resources", mutate: func(m *Manifest) { m.Resources = nil }, wantErr: "at least one entry"},
		{name: "unknown kind", mutate: func(m *Manifest) { m.Resources[0].Kind = "queue" }, wantErr: `kind "queue"`},
		{name: "duplicate id", mutate: func(m *Manifest) { m.Resources[1].ID = m.Resources[0].ID }, wantErr: "duplicated"},
		{
			name: "dependency order",
			mutate: func(m *Manifest) {
				m.Resources[0], m.Resources[len(m.Resources)-1] = m.Resources[len(m.Resources)-1], m.Resources[0]
			},
			wantErr: "must be listed before",
		},
		{name: "unknown grantee", mutate: func(m *Manifest) { m.Permissions[0].Grantee = "ghost" }, wantErr: "not a listed function"},
		{name: "binding source", mutate: func(m *Manifest) { m.Bindings[0].Source = imagestack.TableID }, wantErr: "not a listed bucket"},
		{name: "output resource", mutate: func(m *Manifest) { m.Outputs[0].Resource = "ghost" }, wantErr: "is not listed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadMissingManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yml")
	_, err := Read(path)
	require.Error(t, err)

	var missing MissingFileError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, path, missing.Path)
}

func TestReadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.yml")
	content := strings.Join([]string{
		`schema_version: "1"`,
		`stack: AiCaptionCraftStack`,
		`mode: docker`,
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode stack manifest")
}

func TestWriteRejectsInvalidManifestWithoutTouchingTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.yml")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	err := Write(path, Manifest{SchemaVersion: SchemaVersionV1})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTemplateSHA256(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(TemplatePath(dir, "Stack"), []byte("{}"), 0o644))

	sum, err := TemplateSHA256(dir, "Stack")
	require.NoError(t, err)
	assert.Equal(t, "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a", sum)

	_, err = TemplateSHA256(dir, "Other")
	var missing MissingFileError
	require.ErrorAs(t, err, &missing)
}

func TestDriftErrorMessage(t *testing.T) {
	err := DriftError{
		StoredDigest:  strings.Repeat("a", 64),
		CurrentDigest: strings.Repeat("b", 64),
		Removed:       []string{"z", "m"},
	}
	want := "stack manifest drift: digest aaaaaaaaaaaa != bbbbbbbbbbbb; removed: m, z"
	assert.Equal(t, want, err.Error())
}
