// Where: pkg/stackmanifest/manifest.go
// What: Schema-versioned YAML record of a synthesized stack graph.
// Why: Let deploy and verify steps detect drift without re-reading the cloud assembly.
package stackmanifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
	"gopkg.in/yaml.v3"
)

const SchemaVersionV1 = "1"

var sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

type Manifest struct {
	SchemaVersion  string            `yaml:"schema_version"`
	Stack          string            `yaml:"stack"`
	Account        string            `yaml:"account,omitempty"`
	Region         string            `yaml:"region,omitempty"`
	Rollout        string            `yaml:"rollout,omitempty"`
	Digest         string            `yaml:"digest"`
	Resources      []ResourceEntry   `yaml:"resources"`
	Permissions    []PermissionEntry `yaml:"permissions,omitempty"`
	Bindings       []BindingEntry    `yaml:"bindings,omitempty"`
	Outputs        []OutputEntry     `yaml:"outputs,omitempty"`
	TemplateSHA256 string            `yaml:"template_sha256,omitempty"`
	GeneratedAt    string            `yaml:"generated_at,omitempty"`
	Generator      Generator         `yaml:"generator,omitempty"`
}

type ResourceEntry struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	DependsOn  []string          `yaml:"depends_on,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// PermissionEntry lists every grant held by one function, in the form "capability:kind/id"
// or "action:service:Action@pattern".
type PermissionEntry struct {
	Grantee string   `yaml:"grantee"`
	Grants  []string `yaml:"grants"`
}

type BindingEntry struct {
	Source string `yaml:"source"`
	Event  string `yaml:"event"`
	Target string `yaml:"target"`
}

type OutputEntry struct {
	ID         string `yaml:"id"`
	Resource   string `yaml:"resource"`
	Attribute  string `yaml:"attribute"`
	ExportName string `yaml:"export_name,omitempty"`
}

type Generator struct {
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`
}

// FromGraph records g as the manifest of stack. Resources appear in creation order.
func FromGraph(stack, rollout string, g *stackgraph.Graph) Manifest {
	ctx := g.Context()
	m := Manifest{
		SchemaVersion: SchemaVersionV1,
		Stack:         stack,
		Account:       ctx.Account,
		Region:        ctx.Region,
		Rollout:       rollout,
		Digest:        g.Digest(),
	}
	for _, id := range g.CreationOrder() {
		res, _ := g.Resource(id)
		m.Resources = append(m.Resources, ResourceEntry{
			ID:         id,
			Kind:       string(res.Kind()),
			DependsOn:  g.DependsOn(id),
			Attributes: attributes(res),
		})
	}
	for _, fn := range g.Functions() {
		grants := g.PermissionSet(fn.ID)
		if len(grants) == 0 {
			continue
		}
		m.Permissions = append(m.Permissions, PermissionEntry{Grantee: fn.ID, Grants: grants})
	}
	for _, b := range g.Bindings() {
		m.Bindings = append(m.Bindings, BindingEntry{Source: b.Source.ID, Event: string(b.Event), Target: b.Target.ID})
	}
	for _, out := range g.Outputs() {
		m.Outputs = append(m.Outputs, OutputEntry{
			ID:         out.ID,
			Resource:   out.Value.ID,
			Attribute:  string(out.Attribute),
			ExportName: out.ExportName,
		})
	}
	return m
}

func attributes(res stackgraph.Resource) map[string]string {
	switch r := res.(type) {
	case stackgraph.Bucket:
		attrs := map[string]string{
			"removal_policy":      string(r.RemovalPolicy),
			"auto_delete_objects": strconv.FormatBool(r.AutoDeleteObjects),
		}
		if len(r.CORS) > 0 {
			attrs["cors_rules"] = strconv.Itoa(len(r.CORS))
		}
		return attrs
	case stackgraph.Table:
		return map[string]string{
			"partition_key":  r.PartitionKey.Name + ":" + string(r.PartitionKey.Type),
			"removal_policy": string(r.RemovalPolicy),
		}
	case stackgraph.Layer:
		return map[string]string{
			"source":   r.Source,
			"runtimes": strings.Join(r.CompatibleRuntimes, ","),
		}
	case stackgraph.Function:
		return map[string]string{
			"source":    r.Source,
			"runtime":   r.Runtime,
			"handler":   r.Handler,
			"timeout":   r.Timeout.String(),
			"memory_mb": strconv.Itoa(r.MemoryMB),
			"env":       strings.Join(r.EnvironmentKeys(), ","),
		}
	case stackgraph.Gateway:
		attrs := map[string]string{
			"handler": r.Handler.ID,
			"proxy":   strconv.FormatBool(r.Proxy),
		}
		var routes []string
		for _, route := range r.Routes {
			for _, method := range route.Methods {
				routes = append(routes, string(method)+" "+route.Path)
			}
		}
		if len(routes) > 0 {
			attrs["routes"] = strings.Join(routes, ",")
		}
		return attrs
	default:
		return nil
	}
}

func (m Manifest) Validate() error {
	schemaVersion := strings.TrimSpace(m.SchemaVersion)
	if schemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	if schemaVersion != SchemaVersionV1 {
		return fmt.Errorf("unsupported schema_version: %q (supported: %q)", schemaVersion, SchemaVersionV1)
	}
	if strings.TrimSpace(m.Stack) == "" {
		return fmt.Errorf("stack is required")
	}
	if !sha256Pattern.MatchString(m.Digest) {
		return fmt.Errorf("digest must be 64 lowercase hex characters")
	}
	if m.TemplateSHA256 != "" && !sha256Pattern.MatchString(m.TemplateSHA256) {
		return fmt.Errorf("template_sha256 must be 64 lowercase hex characters")
	}
	if len(m.Resources) == 0 {
		return fmt.Errorf("resources must contain at least one entry")
	}

	seen := make(map[string]string, len(m.Resources))
	for i, res := range m.Resources {
		if err := res.Validate(i); err != nil {
			return err
		}
		if _, dup := seen[res.ID]; dup {
			return fmt.Errorf("resources[%d].id %q is duplicated", i, res.ID)
		}
		for _, dep := range res.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("resources[%d].depends_on %q must be listed before %q", i, dep, res.ID)
			}
		}
		seen[res.ID] = res.Kind
	}
	for i, p := range m.Permissions {
		if seen[p.Grantee] != string(stackgraph.KindFunction) {
			return fmt.Errorf("permissions[%d].grantee %q is not a listed function", i, p.Grantee)
		}
		if len(p.Grants) == 0 {
			return fmt.Errorf("permissions[%d].grants must contain at least one entry", i)
		}
	}
	for i, b := range m.Bindings {
		if seen[b.Source] != string(stackgraph.KindBucket) {
			return fmt.Errorf("bindings[%d].source %q is not a listed bucket", i, b.Source)
		}
		if seen[b.Target] != string(stackgraph.KindFunction) {
			return fmt.Errorf("bindings[%d].target %q is not a listed function", i, b.Target)
		}
	}
	for i, out := range m.Outputs {
		if strings.TrimSpace(out.ID) == "" {
			return fmt.Errorf("outputs[%d].id is required", i)
		}
		if _, ok := seen[out.Resource]; !ok {
			return fmt.Errorf("outputs[%d].resource %q is not listed", i, out.Resource)
		}
	}
	return nil
}

func (e ResourceEntry) Validate(index int) error {
	prefix := fmt.Sprintf("resources[%d]", index)
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%s.id is required", prefix)
	}
	switch stackgraph.Kind(e.Kind) {
	case stackgraph.KindBucket, stackgraph.KindTable, stackgraph.KindLayer, stackgraph.KindFunction, stackgraph.KindGateway:
		return nil
	default:
		return fmt.Errorf("%s.kind %q is not supported", prefix, e.Kind)
	}
}

// ResourceIDs returns the recorded resource ids in manifest order.
func (m Manifest) ResourceIDs() []string {
	ids := make([]string, 0, len(m.Resources))
	for _, res := range m.Resources {
		ids = append(ids, res.ID)
	}
	return ids
}

// Verify compares the stored manifest with a fresh graph and returns a DriftError when
// their digests differ.
func Verify(m Manifest, g *stackgraph.Graph) error {
	if m.Digest == g.Digest() {
		return nil
	}
	stored := make(map[string]struct{}, len(m.Resources))
	for _, id := range m.ResourceIDs() {
		stored[id] = struct{}{}
	}
	current := make(map[string]struct{})
	drift := DriftError{StoredDigest: m.Digest, CurrentDigest: g.Digest()}
	for _, res := range g.Resources() {
		id := res.ResourceID()
		current[id] = struct{}{}
		if _, ok := stored[id]; !ok {
			drift.Added = append(drift.Added, id)
		}
	}
	for _, id := range m.ResourceIDs() {
		if _, ok := current[id]; !ok {
			drift.Removed = append(drift.Removed, id)
		}
	}
	sort.Strings(drift.Added)
	sort.Strings(drift.Removed)
	return drift
}

func Read(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, fmt.Errorf("read stack manifest: %w", MissingFileError{Path: path})
		}
		return Manifest{}, err
	}
	return decode(data)
}

// Write validates m and replaces path atomically. GeneratedAt is stamped when empty.
func Write(path string, m Manifest) error {
	normalized := normalize(m)
	if normalized.GeneratedAt == "" {
		normalized.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := normalized.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stack manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".stack-manifest-*.yml")
	if err != nil {
		return fmt.Errorf("create temp stack manifest file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	encoder := yaml.NewEncoder(tmp)
	encoder.SetIndent(2)
	if err := encoder.Encode(normalized); err != nil {
		_ = encoder.Close()
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("encode stack manifest: %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("close stack manifest encoder: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close stack manifest temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod stack manifest temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("commit stack manifest file: %w", err)
	}
	return nil
}

func normalize(m Manifest) Manifest {
	out := m
	out.SchemaVersion = strings.TrimSpace(out.SchemaVersion)
	out.Stack = strings.TrimSpace(out.Stack)
	out.Resources = append([]ResourceEntry(nil), m.Resources...)
	for i := range out.Resources {
		out.Resources[i].DependsOn = append([]string(nil), m.Resources[i].DependsOn...)
	}
	out.Permissions = append([]PermissionEntry(nil), m.Permissions...)
	for i := range out.Permissions {
		grants := append([]string(nil), m.Permissions[i].Grants...)
		sort.Strings(grants)
		out.Permissions[i].Grants = grants
	}
	return out
}

func decode(data []byte) (Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var m Manifest
	if err := decoder.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode stack manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
