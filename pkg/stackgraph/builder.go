package stackgraph

import (
	"strings"
	"time"
)

const (
	// ResizedSuffix is appended to an image bucket id to name its derived bucket.
	ResizedSuffix = "-resized"

	DefaultFunctionTimeout  = 3 * time.Second
	DefaultFunctionMemoryMB = 128
)

// Builder accumulates declarations. It is not safe for concurrent use.
type Builder struct {
	context     DeploymentContext
	corsMethods map[HTTPMethod]struct{}

	resources   []Resource
	bindings    []EventBinding
	permissions []Permission
	actions     []ActionGrant
	outputs     []Output
	derivations []derivation
	grantKeys   map[string]struct{}
}

// derivation ties a derived bucket to the bucket it was derived from.
type derivation struct {
	source  Ref
	derived string
}

type Option func(*Builder)

// WithBucketCORSMethods narrows the CORS methods buckets may declare. Methods outside
// ProviderCORSMethods stay rejected.
func WithBucketCORSMethods(methods ...HTTPMethod) Option {
	return func(b *Builder) {
		allowed := make(map[HTTPMethod]struct{}, len(methods))
		for _, method := range methods {
			allowed[normalizeMethod(method)] = struct{}{}
		}
		b.corsMethods = allowed
	}
}

func NewBuilder(ctx DeploymentContext, opts ...Option) *Builder {
	b := &Builder{
		context:   ctx,
		grantKeys: make(map[string]struct{}),
	}
	b.corsMethods = make(map[HTTPMethod]struct{}, len(ProviderCORSMethods))
	for _, method := range ProviderCORSMethods {
		b.corsMethods[method] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type BucketOptions struct {
	// RemovalPolicy defaults to RemovalRetain.
	RemovalPolicy     RemovalPolicy
	AutoDeleteObjects bool
	CORS              []CORSRule
}

func (b *Builder) DeclareBucket(id string, opts BucketOptions) Ref {
	bucket := Bucket{
		ID:                strings.TrimSpace(id),
		RemovalPolicy:     opts.RemovalPolicy,
		AutoDeleteObjects: opts.AutoDeleteObjects,
	}
	if bucket.RemovalPolicy == "" {
		bucket.RemovalPolicy = RemovalRetain
	}
	for _, rule := range opts.CORS {
		bucket.CORS = append(bucket.CORS, rule.clone())
	}
	b.resources = append(b.resources, bucket)
	return Ref{ID: bucket.ID, Kind: KindBucket}
}

// DeriveResizedBucket declares the bucket that receives processed copies of image's objects.
// The source is resolved at Build time like every other reference.
func (b *Builder) DeriveResizedBucket(image Ref, opts BucketOptions) Ref {
	ref := b.DeclareBucket(ResizedName(strings.TrimSpace(image.ID)), opts)
	b.derivations = append(b.derivations, derivation{source: image, derived: ref.ID})
	return ref
}

// ResizedName returns the id of the bucket derived from imageBucket.
func ResizedName(imageBucket string) string {
	return imageBucket + ResizedSuffix
}

func (b *Builder) DeclareTable(id string, partitionKey Attribute, removal RemovalPolicy) Ref {
	if removal == "" {
		removal = RemovalRetain
	}
	table := Table{
		ID:            strings.TrimSpace(id),
		PartitionKey:  partitionKey,
		RemovalPolicy: removal,
	}
	b.resources = append(b.resources, table)
	return Ref{ID: table.ID, Kind: KindTable}
}

type LayerOptions struct {
	Source             string
	CompatibleRuntimes []string
	License            string
	Description        string
}

func (b *Builder) DeclareLayer(id string, opts LayerOptions) Ref {
	layer := Layer{
		ID:                 strings.TrimSpace(id),
		Source:             opts.Source,
		CompatibleRuntimes: append([]string(nil), opts.CompatibleRuntimes...),
		License:            opts.License,
		Description:        opts.Description,
	}
	b.resources = append(b.resources, layer)
	return Ref{ID: layer.ID, Kind: KindLayer}
}

type FunctionOptions struct {
	Source  string
	Runtime string
	Handler string
	// Timeout defaults to DefaultFunctionTimeout.
	Timeout time.Duration
	// MemoryMB defaults to DefaultFunctionMemoryMB.
	MemoryMB    int
	Layers      []Ref
	Environment map[string]Ref
}

func (b *Builder) DeclareFunction(id string, opts FunctionOptions) Ref {
	fn := Function{
		ID:       strings.TrimSpace(id),
		Source:   opts.Source,
		Runtime:  opts.Runtime,
		Handler:  opts.Handler,
		Timeout:  opts.Timeout,
		MemoryMB: opts.MemoryMB,
		Layers:   append([]Ref(nil), opts.Layers...),
	}
	if fn.Timeout == 0 {
		fn.Timeout = DefaultFunctionTimeout
	}
	if fn.MemoryMB == 0 {
		fn.MemoryMB = DefaultFunctionMemoryMB
	}
	if len(opts.Environment) > 0 {
		fn.Environment = make(map[string]Ref, len(opts.Environment))
		for key, ref := range opts.Environment {
			fn.Environment[key] = ref
		}
	}
	b.resources = append(b.resources, fn)
	return Ref{ID: fn.ID, Kind: KindFunction}
}

// BindEvent registers target for invocation whenever event happens on source.
func (b *Builder) BindEvent(source Ref, event EventKind, target Ref) {
	b.bindings = append(b.bindings, EventBinding{Source: source, Event: event, Target: target})
}

// Grant records that grantee may use resource with capability. Repeated grants are no-ops,
// whether or not the refs carry a kind.
func (b *Builder) Grant(grantee, resource Ref, capability Capability) {
	p := Permission{Grantee: grantee, Resource: resource, Capability: capability}
	key := "grant|" + grantee.ID + "|" + string(capability) + "|" + resource.ID
	if _, ok := b.grantKeys[key]; ok {
		return
	}
	b.grantKeys[key] = struct{}{}
	b.permissions = append(b.permissions, p)
}

// GrantAction records an opaque provider action grant scoped to resourcePattern.
func (b *Builder) GrantAction(grantee Ref, action, resourcePattern string) {
	a := ActionGrant{Grantee: grantee, Action: strings.TrimSpace(action), ResourcePattern: resourcePattern}
	key := "action|" + grantee.ID + "|" + a.key()
	if _, ok := b.grantKeys[key]; ok {
		return
	}
	b.grantKeys[key] = struct{}{}
	b.actions = append(b.actions, a)
}

type GatewayOptions struct {
	// Proxy forwards every path and method to the handler unchanged.
	Proxy  bool
	Routes []Route
	CORS   *GatewayCORS
}

func (b *Builder) DeclareGateway(id string, handler Ref, opts GatewayOptions) Ref {
	gw := Gateway{
		ID:      strings.TrimSpace(id),
		Handler: handler,
		Proxy:   opts.Proxy,
	}
	for _, route := range opts.Routes {
		methods := make([]HTTPMethod, 0, len(route.Methods))
		for _, method := range route.Methods {
			methods = append(methods, normalizeMethod(method))
		}
		gw.Routes = append(gw.Routes, Route{Path: route.Path, Methods: methods})
	}
	if opts.CORS != nil {
		cors := GatewayCORS{
			AllowOrigins: append([]string(nil), opts.CORS.AllowOrigins...),
			AllowMethods: append([]HTTPMethod(nil), opts.CORS.AllowMethods...),
		}
		gw.CORS = &cors
	}
	b.resources = append(b.resources, gw)
	return Ref{ID: gw.ID, Kind: KindGateway}
}

func (b *Builder) DeclareOutput(id string, value Ref, attribute OutputAttribute, exportName string) {
	b.outputs = append(b.outputs, Output{
		ID:         strings.TrimSpace(id),
		Value:      value,
		Attribute:  attribute,
		ExportName: exportName,
	})
}

// Build validates every declaration and returns the immutable graph. On failure it
// returns every problem found and no graph.
func (b *Builder) Build() (*Graph, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	kinds := make(map[string]Kind, len(b.resources))
	for _, res := range b.resources {
		kinds[res.ResourceID()] = res.Kind()
	}
	resolved := func(ref Ref) Ref { return Ref{ID: ref.ID, Kind: kinds[ref.ID]} }

	g := &Graph{
		context: b.context,
		index:   make(map[string]int, len(b.resources)),
	}
	for i, res := range b.resources {
		g.resources = append(g.resources, withResolvedRefs(res.clone(), resolved))
		g.index[res.ResourceID()] = i
	}
	for _, binding := range b.bindings {
		g.bindings = append(g.bindings, EventBinding{Source: resolved(binding.Source), Event: binding.Event, Target: resolved(binding.Target)})
	}
	for _, p := range b.permissions {
		g.permissions = append(g.permissions, Permission{Grantee: resolved(p.Grantee), Resource: resolved(p.Resource), Capability: p.Capability})
	}
	for _, a := range b.actions {
		a.Grantee = resolved(a.Grantee)
		g.actions = append(g.actions, a)
	}
	for _, out := range b.outputs {
		out.Value = resolved(out.Value)
		g.outputs = append(g.outputs, out)
	}
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	digest, err := g.computeDigest()
	if err != nil {
		return nil, err
	}
	g.digest = digest
	return g, nil
}

// withResolvedRefs returns res with every reference carrying the kind it resolved to.
func withResolvedRefs(res Resource, resolved func(Ref) Ref) Resource {
	switch typed := res.(type) {
	case Function:
		for i, layer := range typed.Layers {
			typed.Layers[i] = resolved(layer)
		}
		for key, ref := range typed.Environment {
			typed.Environment[key] = resolved(ref)
		}
		return typed
	case Gateway:
		typed.Handler = resolved(typed.Handler)
		return typed
	default:
		return res
	}
}
