package stackgraph

import (
	"sort"
	"strings"
	"time"
)

// Kind identifies one of the closed set of resource variants.
type Kind string

const (
	KindBucket   Kind = "bucket"
	KindTable    Kind = "table"
	KindLayer    Kind = "layer"
	KindFunction Kind = "function"
	KindGateway  Kind = "gateway"
)

// Ref points at a declared resource. It is the only way one resource refers to another.
type Ref struct {
	ID   string
	Kind Kind
}

func (r Ref) IsZero() bool { return r.ID == "" }

func (r Ref) String() string {
	if r.Kind == "" {
		return r.ID
	}
	return string(r.Kind) + "/" + r.ID
}

// DeploymentContext is the target placement of a stack. It is passed through untouched.
type DeploymentContext struct {
	Account string `yaml:"account,omitempty" json:"account,omitempty"`
	Region  string `yaml:"region,omitempty" json:"region,omitempty"`
}

type RemovalPolicy string

const (
	RemovalDestroy  RemovalPolicy = "destroy"
	RemovalRetain   RemovalPolicy = "retain"
	RemovalSnapshot RemovalPolicy = "snapshot"
)

func (p RemovalPolicy) Valid() bool {
	switch p {
	case RemovalDestroy, RemovalRetain, RemovalSnapshot:
		return true
	default:
		return false
	}
}

type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPut     HTTPMethod = "PUT"
	MethodPost    HTTPMethod = "POST"
	MethodDelete  HTTPMethod = "DELETE"
	MethodHead    HTTPMethod = "HEAD"
	MethodPatch   HTTPMethod = "PATCH"
	MethodOptions HTTPMethod = "OPTIONS"
	MethodAny     HTTPMethod = "ANY"
)

// ProviderCORSMethods is the set of methods object storage accepts in a CORS rule.
var ProviderCORSMethods = []HTTPMethod{MethodGet, MethodPut, MethodPost, MethodDelete, MethodHead}

var routeMethods = map[HTTPMethod]struct{}{
	MethodGet: {}, MethodPut: {}, MethodPost: {}, MethodDelete: {},
	MethodHead: {}, MethodPatch: {}, MethodOptions: {}, MethodAny: {},
}

// CORSRule is one bucket cross-origin rule.
type CORSRule struct {
	AllowedMethods []HTTPMethod `json:"allowed_methods"`
	AllowedOrigins []string     `json:"allowed_origins"`
	AllowedHeaders []string     `json:"allowed_headers,omitempty"`
	MaxAge         int          `json:"max_age,omitempty"`
}

func (r CORSRule) clone() CORSRule {
	return CORSRule{
		AllowedMethods: append([]HTTPMethod(nil), r.AllowedMethods...),
		AllowedOrigins: append([]string(nil), r.AllowedOrigins...),
		AllowedHeaders: append([]string(nil), r.AllowedHeaders...),
		MaxAge:         r.MaxAge,
	}
}

// Resource is implemented only by the descriptor types of this package.
type Resource interface {
	ResourceID() string
	Kind() Kind
	references() []Ref
	clone() Resource
}

type Bucket struct {
	ID                string        `json:"id"`
	RemovalPolicy     RemovalPolicy `json:"removal_policy"`
	AutoDeleteObjects bool          `json:"auto_delete_objects,omitempty"`
	CORS              []CORSRule    `json:"cors,omitempty"`
}

func (b Bucket) ResourceID() string { return b.ID }
func (Bucket) Kind() Kind           { return KindBucket }
func (Bucket) references() []Ref    { return nil }

func (b Bucket) clone() Resource {
	out := b
	out.CORS = nil
	for _, rule := range b.CORS {
		out.CORS = append(out.CORS, rule.clone())
	}
	return out
}

type AttributeType string

const (
	AttributeString AttributeType = "S"
	AttributeNumber AttributeType = "N"
	AttributeBinary AttributeType = "B"
)

func (t AttributeType) Valid() bool {
	switch t {
	case AttributeString, AttributeNumber, AttributeBinary:
		return true
	default:
		return false
	}
}

type Attribute struct {
	Name string        `json:"name"`
	Type AttributeType `json:"type"`
}

// Table is a key-value table keyed by a single partition key.
type Table struct {
	ID            string        `json:"id"`
	PartitionKey  Attribute     `json:"partition_key"`
	RemovalPolicy RemovalPolicy `json:"removal_policy"`
}

func (t Table) ResourceID() string { return t.ID }
func (Table) Kind() Kind           { return KindTable }
func (Table) references() []Ref    { return nil }
func (t Table) clone() Resource    { return t }

// Layer is a shared dependency bundle attached to functions.
type Layer struct {
	ID                 string   `json:"id"`
	Source             string   `json:"source"`
	CompatibleRuntimes []string `json:"compatible_runtimes,omitempty"`
	License            string   `json:"license,omitempty"`
	Description        string   `json:"description,omitempty"`
}

func (l Layer) ResourceID() string { return l.ID }
func (Layer) Kind() Kind           { return KindLayer }
func (Layer) references() []Ref    { return nil }

func (l Layer) clone() Resource {
	out := l
	out.CompatibleRuntimes = append([]string(nil), l.CompatibleRuntimes...)
	return out
}

type Function struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Runtime     string         `json:"runtime"`
	Handler     string         `json:"handler"`
	Timeout     time.Duration  `json:"timeout"`
	MemoryMB    int            `json:"memory_mb"`
	Layers      []Ref          `json:"layers,omitempty"`
	Environment map[string]Ref `json:"environment,omitempty"`
}

func (f Function) ResourceID() string { return f.ID }
func (Function) Kind() Kind           { return KindFunction }

func (f Function) references() []Ref {
	refs := append([]Ref(nil), f.Layers...)
	for _, key := range f.EnvironmentKeys() {
		refs = append(refs, f.Environment[key])
	}
	return refs
}

func (f Function) clone() Resource {
	out := f
	out.Layers = append([]Ref(nil), f.Layers...)
	if f.Environment != nil {
		out.Environment = make(map[string]Ref, len(f.Environment))
		for key, ref := range f.Environment {
			out.Environment[key] = ref
		}
	}
	return out
}

// EnvironmentKeys returns the environment variable names in sorted order.
func (f Function) EnvironmentKeys() []string {
	keys := make([]string, 0, len(f.Environment))
	for key := range f.Environment {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// References reports whether the function environment points at id.
func (f Function) References(id string) bool {
	for _, ref := range f.Environment {
		if ref.ID == id {
			return true
		}
	}
	return false
}

type Route struct {
	Path    string       `json:"path"`
	Methods []HTTPMethod `json:"methods"`
}

// GatewayCORS is the preflight policy applied to every gateway resource.
type GatewayCORS struct {
	AllowOrigins []string     `json:"allow_origins"`
	AllowMethods []HTTPMethod `json:"allow_methods"`
}

var (
	AllOrigins = []string{"*"}
	AllMethods = []HTTPMethod{MethodOptions, MethodGet, MethodPut, MethodPost, MethodDelete, MethodPatch, MethodHead}
)

// Gateway is an HTTP front door whose single backing function handles every routed request.
type Gateway struct {
	ID      string       `json:"id"`
	Handler Ref          `json:"handler"`
	Proxy   bool         `json:"proxy"`
	Routes  []Route      `json:"routes,omitempty"`
	CORS    *GatewayCORS `json:"cors,omitempty"`
}

func (g Gateway) ResourceID() string { return g.ID }
func (Gateway) Kind() Kind           { return KindGateway }
func (g Gateway) references() []Ref  { return []Ref{g.Handler} }

func (g Gateway) clone() Resource {
	out := g
	out.Routes = nil
	for _, route := range g.Routes {
		out.Routes = append(out.Routes, Route{Path: route.Path, Methods: append([]HTTPMethod(nil), route.Methods...)})
	}
	if g.CORS != nil {
		cors := GatewayCORS{
			AllowOrigins: append([]string(nil), g.CORS.AllowOrigins...),
			AllowMethods: append([]HTTPMethod(nil), g.CORS.AllowMethods...),
		}
		out.CORS = &cors
	}
	return out
}

type EventKind string

const (
	EventObjectCreated EventKind = "object-created"
	EventObjectRemoved EventKind = "object-removed"
)

// EventBinding invokes Target whenever Event happens on Source.
type EventBinding struct {
	Source Ref       `json:"source"`
	Event  EventKind `json:"event"`
	Target Ref       `json:"target"`
}

type Capability string

const (
	CapabilityRead      Capability = "read"
	CapabilityWrite     Capability = "write"
	CapabilityReadWrite Capability = "read-write"
	// CapabilityPut allows object uploads only; buckets only.
	CapabilityPut Capability = "put"
)

// Permission grants Grantee a capability on a declared bucket or table.
type Permission struct {
	Grantee    Ref        `json:"grantee"`
	Resource   Ref        `json:"resource"`
	Capability Capability `json:"capability"`
}

func (p Permission) key() string {
	return string(p.Capability) + ":" + p.Resource.String()
}

// ActionGrant grants an opaque provider action on a resource pattern.
type ActionGrant struct {
	Grantee         Ref    `json:"grantee"`
	Action          string `json:"action"`
	ResourcePattern string `json:"resource_pattern"`
}

func (a ActionGrant) key() string {
	return "action:" + a.Action + "@" + a.ResourcePattern
}

type OutputAttribute string

const (
	OutputName OutputAttribute = "name"
	OutputArn  OutputAttribute = "arn"
	OutputURL  OutputAttribute = "url"
)

// Output exports one attribute of a declared resource from the stack.
type Output struct {
	ID         string          `json:"id"`
	Value      Ref             `json:"value"`
	Attribute  OutputAttribute `json:"attribute"`
	ExportName string          `json:"export_name,omitempty"`
}

func normalizeMethod(m HTTPMethod) HTTPMethod {
	return HTTPMethod(strings.ToUpper(strings.TrimSpace(string(m))))
}
