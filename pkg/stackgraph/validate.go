package stackgraph

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	minFunctionTimeout  = time.Second
	maxFunctionTimeout  = 900 * time.Second
	minFunctionMemoryMB = 128
	maxFunctionMemoryMB = 10240
)

var (
	resourceIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)
	envKeyPattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// validate is the single pass over every declaration. It never stops at the first problem.
func (b *Builder) validate() error {
	var errs []error

	kinds := make(map[string]Kind, len(b.resources))
	for _, res := range b.resources {
		id := res.ResourceID()
		if !resourceIDPattern.MatchString(id) {
			errs = append(errs, declErr(ErrInvalidIdentifier, id, "%s identifier must start with a letter and contain only letters, digits, '.', '_' or '-'", res.Kind()))
			continue
		}
		if prev, ok := kinds[id]; ok {
			errs = append(errs, declErr(ErrDuplicateResource, id, "%s collides with declared %s", res.Kind(), prev))
			continue
		}
		kinds[id] = res.Kind()
	}

	resolve := func(owner string, ref Ref, want ...Kind) error {
		actual, ok := kinds[ref.ID]
		if ref.ID == "" || !ok {
			return declErr(ErrMissingReference, owner, "%q is not declared", ref.ID)
		}
		if ref.Kind != "" && ref.Kind != actual {
			return declErr(ErrKindMismatch, owner, "%q is a %s, referenced as %s", ref.ID, actual, ref.Kind)
		}
		if len(want) == 0 {
			return nil
		}
		for _, kind := range want {
			if kind == actual {
				return nil
			}
		}
		return declErr(ErrKindMismatch, owner, "%q is a %s, want %s", ref.ID, actual, joinKinds(want))
	}

	for _, d := range b.derivations {
		if err := resolve(d.derived, d.source, KindBucket); err != nil {
			errs = append(errs, err)
		}
	}

	functions := make(map[string]Function)
	for _, res := range b.resources {
		switch typed := res.(type) {
		case Bucket:
			errs = append(errs, b.validateBucket(typed)...)
		case Table:
			errs = append(errs, validateTable(typed)...)
		case Layer:
			errs = append(errs, validateLayer(typed)...)
		case Function:
			functions[typed.ID] = typed
			errs = append(errs, validateFunction(typed)...)
			for _, layer := range typed.Layers {
				if err := resolve(typed.ID, layer, KindLayer); err != nil {
					errs = append(errs, err)
				}
			}
			for _, key := range typed.EnvironmentKeys() {
				if err := resolve(typed.ID, typed.Environment[key]); err != nil {
					errs = append(errs, err)
				}
			}
		case Gateway:
			errs = append(errs, validateGateway(typed)...)
			if err := resolve(typed.ID, typed.Handler, KindFunction); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, binding := range b.bindings {
		owner := binding.Source.ID + "->" + binding.Target.ID
		if binding.Event != EventObjectCreated {
			errs = append(errs, declErr(ErrInvalidEvent, owner, "event kind %q is not bindable, only %q", binding.Event, EventObjectCreated))
		}
		if err := resolve(owner, binding.Source, KindBucket); err != nil {
			errs = append(errs, err)
		}
		if err := resolve(owner, binding.Target, KindFunction); err != nil {
			errs = append(errs, err)
		}
	}

	for _, p := range b.permissions {
		if err := resolve(p.Grantee.ID, p.Grantee, KindFunction); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := resolve(p.Grantee.ID, p.Resource, KindBucket, KindTable); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := validateCapability(kinds[p.Resource.ID], p); err != nil {
			errs = append(errs, err)
		}
		if fn, ok := functions[p.Grantee.ID]; ok && !fn.References(p.Resource.ID) {
			errs = append(errs, declErr(ErrMissingEnvironment, fn.ID, "granted %s on %q without an environment reference to it", p.Capability, p.Resource.ID))
		}
	}

	for _, a := range b.actions {
		if err := resolve(a.Grantee.ID, a.Grantee, KindFunction); err != nil {
			errs = append(errs, err)
		}
		service, name, ok := strings.Cut(a.Action, ":")
		if !ok || service == "" || name == "" {
			errs = append(errs, declErr(ErrInvalidGrant, a.Grantee.ID, "action %q must have the form service:Action", a.Action))
		}
		if strings.TrimSpace(a.ResourcePattern) == "" {
			errs = append(errs, declErr(ErrInvalidGrant, a.Grantee.ID, "action %q needs a resource pattern", a.Action))
		}
	}

	outputIDs := make(map[string]struct{}, len(b.outputs))
	for _, out := range b.outputs {
		if !resourceIDPattern.MatchString(out.ID) {
			errs = append(errs, declErr(ErrInvalidIdentifier, out.ID, "output identifier is not valid"))
			continue
		}
		if _, ok := kinds[out.ID]; ok {
			errs = append(errs, declErr(ErrDuplicateResource, out.ID, "output collides with declared %s", kinds[out.ID]))
			continue
		}
		if _, ok := outputIDs[out.ID]; ok {
			errs = append(errs, declErr(ErrDuplicateResource, out.ID, "output declared twice"))
			continue
		}
		outputIDs[out.ID] = struct{}{}
		if err := resolve(out.ID, out.Value); err != nil {
			errs = append(errs, err)
			continue
		}
		if !outputSupported(kinds[out.Value.ID], out.Attribute) {
			errs = append(errs, declErr(ErrInvalidOutput, out.ID, "%s has no %q attribute", kinds[out.Value.ID], out.Attribute))
		}
	}

	if len(errs) == 0 {
		if _, cycle := topoOrder(b.resources); cycle != nil {
			errs = append(errs, declErr(ErrCycle, cycle[0], "%s", strings.Join(cycle, " -> ")))
		}
	}
	return errors.Join(errs...)
}

func (b *Builder) validateBucket(bucket Bucket) []error {
	var errs []error
	switch {
	case !bucket.RemovalPolicy.Valid():
		errs = append(errs, declErr(ErrInvalidRemovalPolicy, bucket.ID, "%q is not one of destroy, retain, snapshot", bucket.RemovalPolicy))
	case bucket.RemovalPolicy == RemovalSnapshot:
		errs = append(errs, declErr(ErrInvalidRemovalPolicy, bucket.ID, "buckets do not support snapshot removal"))
	case bucket.AutoDeleteObjects && bucket.RemovalPolicy != RemovalDestroy:
		errs = append(errs, declErr(ErrInvalidRemovalPolicy, bucket.ID, "auto-deleting objects requires the destroy removal policy"))
	}
	for i, rule := range bucket.CORS {
		if len(rule.AllowedMethods) == 0 {
			errs = append(errs, declErr(ErrInvalidCORSMethod, bucket.ID, "cors[%d] allows no methods", i))
		}
		for _, method := range rule.AllowedMethods {
			if _, ok := b.corsMethods[method]; !ok || !providerCORSMethod(method) {
				errs = append(errs, declErr(ErrInvalidCORSMethod, bucket.ID, "cors[%d] method %q is not accepted", i, method))
			}
		}
		if len(rule.AllowedOrigins) == 0 {
			errs = append(errs, declErr(ErrInvalidCORSRule, bucket.ID, "cors[%d] allows no origins", i))
		}
		if rule.MaxAge < 0 {
			errs = append(errs, declErr(ErrInvalidCORSRule, bucket.ID, "cors[%d] max age must not be negative", i))
		}
	}
	return errs
}

func providerCORSMethod(method HTTPMethod) bool {
	for _, allowed := range ProviderCORSMethods {
		if method == allowed {
			return true
		}
	}
	return false
}

func validateTable(table Table) []error {
	var errs []error
	switch {
	case !table.RemovalPolicy.Valid():
		errs = append(errs, declErr(ErrInvalidRemovalPolicy, table.ID, "%q is not one of destroy, retain, snapshot", table.RemovalPolicy))
	case table.RemovalPolicy == RemovalSnapshot:
		errs = append(errs, declErr(ErrInvalidRemovalPolicy, table.ID, "tables do not support snapshot removal"))
	}
	if strings.TrimSpace(table.PartitionKey.Name) == "" {
		errs = append(errs, declErr(ErrInvalidTable, table.ID, "partition key name is required"))
	}
	if !table.PartitionKey.Type.Valid() {
		errs = append(errs, declErr(ErrInvalidTable, table.ID, "partition key type %q is not one of S, N, B", table.PartitionKey.Type))
	}
	return errs
}

func validateLayer(layer Layer) []error {
	var errs []error
	if strings.TrimSpace(layer.Source) == "" {
		errs = append(errs, declErr(ErrInvalidLayer, layer.ID, "source location is required"))
	}
	if len(layer.CompatibleRuntimes) == 0 {
		errs = append(errs, declErr(ErrInvalidLayer, layer.ID, "at least one compatible runtime is required"))
	}
	return errs
}

func validateFunction(fn Function) []error {
	var errs []error
	if strings.TrimSpace(fn.Source) == "" {
		errs = append(errs, declErr(ErrInvalidFunction, fn.ID, "source location is required"))
	}
	if strings.TrimSpace(fn.Runtime) == "" {
		errs = append(errs, declErr(ErrInvalidFunction, fn.ID, "runtime is required"))
	}
	if strings.TrimSpace(fn.Handler) == "" {
		errs = append(errs, declErr(ErrInvalidFunction, fn.ID, "handler is required"))
	}
	if fn.Timeout < minFunctionTimeout || fn.Timeout > maxFunctionTimeout {
		errs = append(errs, declErr(ErrInvalidFunction, fn.ID, "timeout %s outside %s..%s", fn.Timeout, minFunctionTimeout, maxFunctionTimeout))
	}
	if fn.Timeout%time.Second != 0 {
		errs = append(errs, declErr(ErrInvalidFunction, fn.ID, "timeout %s must be whole seconds", fn.Timeout))
	}
	if fn.MemoryMB < minFunctionMemoryMB || fn.MemoryMB > maxFunctionMemoryMB {
		errs = append(errs, declErr(ErrInvalidFunction, fn.ID, "memory %dMB outside %d..%d", fn.MemoryMB, minFunctionMemoryMB, maxFunctionMemoryMB))
	}
	for _, key := range fn.EnvironmentKeys() {
		if !envKeyPattern.MatchString(key) {
			errs = append(errs, declErr(ErrInvalidFunction, fn.ID, "environment key %q is not a valid variable name", key))
		}
	}
	return errs
}

func validateGateway(gw Gateway) []error {
	var errs []error
	if !gw.Proxy && len(gw.Routes) == 0 {
		errs = append(errs, declErr(ErrInvalidGateway, gw.ID, "explicit routing needs at least one route"))
	}
	if gw.Proxy && len(gw.Routes) > 0 {
		errs = append(errs, declErr(ErrInvalidGateway, gw.ID, "proxy mode forwards every path, %d explicit routes would be ignored", len(gw.Routes)))
	}
	seen := make(map[string]struct{})
	for _, route := range gw.Routes {
		if !strings.HasPrefix(route.Path, "/") {
			errs = append(errs, declErr(ErrInvalidGateway, gw.ID, "route path %q must start with '/'", route.Path))
		}
		if len(route.Methods) == 0 {
			errs = append(errs, declErr(ErrInvalidGateway, gw.ID, "route %q has no methods", route.Path))
		}
		for _, method := range route.Methods {
			if _, ok := routeMethods[method]; !ok {
				errs = append(errs, declErr(ErrInvalidGateway, gw.ID, "route %q method %q is not an HTTP method", route.Path, method))
				continue
			}
			key := route.Path + ":" + string(method)
			if _, ok := seen[key]; ok {
				errs = append(errs, declErr(ErrInvalidGateway, gw.ID, "route %s %s declared twice", method, route.Path))
			}
			seen[key] = struct{}{}
		}
	}
	if gw.CORS != nil && len(gw.CORS.AllowOrigins) == 0 {
		errs = append(errs, declErr(ErrInvalidGateway, gw.ID, "cors policy allows no origins"))
	}
	return errs
}

func validateCapability(kind Kind, p Permission) error {
	switch p.Capability {
	case CapabilityRead, CapabilityWrite, CapabilityReadWrite:
		return nil
	case CapabilityPut:
		if kind == KindBucket {
			return nil
		}
		return declErr(ErrInvalidGrant, p.Grantee.ID, "%q capability applies to buckets only, %q is a %s", p.Capability, p.Resource.ID, kind)
	default:
		return declErr(ErrInvalidGrant, p.Grantee.ID, "unknown capability %q on %q", p.Capability, p.Resource.ID)
	}
}

func outputSupported(kind Kind, attr OutputAttribute) bool {
	switch attr {
	case OutputName:
		return kind == KindBucket || kind == KindTable || kind == KindFunction
	case OutputArn:
		return kind != KindGateway
	case OutputURL:
		return kind == KindGateway
	default:
		return false
	}
}

func joinKinds(kinds []Kind) string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	return strings.Join(names, " or ")
}
