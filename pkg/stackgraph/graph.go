package stackgraph

import (
	"container/heap"
	"slices"
	"sort"
)

// Graph is the validated, immutable result of a Builder. Accessors return copies.
type Graph struct {
	context     DeploymentContext
	resources   []Resource
	index       map[string]int
	bindings    []EventBinding
	permissions []Permission
	actions     []ActionGrant
	outputs     []Output
	order       []string
	digest      string
}

func (g *Graph) Context() DeploymentContext { return g.context }

// Digest is a stable content hash; identical declarations always produce the same digest.
func (g *Graph) Digest() string { return g.digest }

// Resources returns every resource in declaration order.
func (g *Graph) Resources() []Resource {
	out := make([]Resource, 0, len(g.resources))
	for _, res := range g.resources {
		out = append(out, res.clone())
	}
	return out
}

func (g *Graph) Resource(id string) (Resource, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.resources[i].clone(), true
}

func (g *Graph) Buckets() []Bucket     { return collect[Bucket](g) }
func (g *Graph) Tables() []Table       { return collect[Table](g) }
func (g *Graph) Layers() []Layer       { return collect[Layer](g) }
func (g *Graph) Functions() []Function { return collect[Function](g) }
func (g *Graph) Gateways() []Gateway   { return collect[Gateway](g) }

func collect[T Resource](g *Graph) []T {
	var out []T
	for _, res := range g.resources {
		if typed, ok := res.clone().(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func (g *Graph) Bindings() []EventBinding {
	return append([]EventBinding(nil), g.bindings...)
}

func (g *Graph) Permissions() []Permission {
	return append([]Permission(nil), g.permissions...)
}

func (g *Graph) ActionGrants() []ActionGrant {
	return append([]ActionGrant(nil), g.actions...)
}

func (g *Graph) Outputs() []Output {
	return append([]Output(nil), g.outputs...)
}

// PermissionsFor returns the resource-scoped grants held by grantee.
func (g *Graph) PermissionsFor(grantee string) []Permission {
	var out []Permission
	for _, p := range g.permissions {
		if p.Grantee.ID == grantee {
			out = append(out, p)
		}
	}
	return out
}

// ActionGrantsFor returns the provider action grants held by grantee.
func (g *Graph) ActionGrantsFor(grantee string) []ActionGrant {
	var out []ActionGrant
	for _, a := range g.actions {
		if a.Grantee.ID == grantee {
			out = append(out, a)
		}
	}
	return out
}

// PermissionSet returns the sorted, de-duplicated permission keys held by grantee,
// covering both resource grants and provider action grants.
func (g *Graph) PermissionSet(grantee string) []string {
	var keys []string
	for _, p := range g.PermissionsFor(grantee) {
		keys = append(keys, p.key())
	}
	for _, a := range g.ActionGrantsFor(grantee) {
		keys = append(keys, a.key())
	}
	sort.Strings(keys)
	return slices.Compact(keys)
}

// CreationOrder returns resource ids so that every resource comes after the ones it references.
func (g *Graph) CreationOrder() []string { return append([]string(nil), g.order...) }

// DependsOn returns the ids id references directly, in sorted order.
func (g *Graph) DependsOn(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, ref := range g.resources[i].references() {
		if _, dup := seen[ref.ID]; dup {
			continue
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref.ID)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) topoOrder() ([]string, error) {
	order, cycle := topoOrder(g.resources)
	if cycle != nil {
		return nil, declErr(ErrCycle, cycle[0], "%v", cycle)
	}
	return order, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with declaration index as the tie breaker. When the
// resources contain a cycle it returns nil and the ids left unordered.
func topoOrder(resources []Resource) ([]string, []string) {
	index := make(map[string]int, len(resources))
	for i, res := range resources {
		index[res.ResourceID()] = i
	}
	indeg := make([]int, len(resources))
	outgoing := make([][]int, len(resources))
	for i, res := range resources {
		seen := make(map[int]struct{})
		for _, ref := range res.references() {
			dep, ok := index[ref.ID]
			if !ok {
				continue
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			outgoing[dep] = append(outgoing[dep], i)
			indeg[i]++
		}
	}

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}
	order := make([]string, 0, len(resources))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		order = append(order, resources[n].ResourceID())
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	if len(order) == len(resources) {
		return order, nil
	}
	var stuck []string
	for i := range indeg {
		if indeg[i] > 0 {
			stuck = append(stuck, resources[i].ResourceID())
		}
	}
	return nil, stuck
}
