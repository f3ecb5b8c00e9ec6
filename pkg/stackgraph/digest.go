package stackgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type canonicalResource struct {
	Kind     Kind     `json:"kind"`
	Resource Resource `json:"resource"`
}

type canonicalGraph struct {
	Context     DeploymentContext   `json:"context"`
	Resources   []canonicalResource `json:"resources"`
	Bindings    []EventBinding      `json:"bindings"`
	Permissions []Permission        `json:"permissions"`
	Actions     []ActionGrant       `json:"actions"`
	Outputs     []Output            `json:"outputs"`
}

// computeDigest hashes a canonical encoding of the graph. encoding/json sorts map keys,
// so environment mappings hash the same regardless of insertion order.
func (g *Graph) computeDigest() (string, error) {
	doc := canonicalGraph{
		Context:     g.context,
		Bindings:    g.bindings,
		Permissions: g.permissions,
		Actions:     g.actions,
		Outputs:     g.outputs,
	}
	for _, res := range g.resources {
		doc.Resources = append(doc.Resources, canonicalResource{Kind: res.Kind(), Resource: res})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode graph for digest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
