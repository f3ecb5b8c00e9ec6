// Package stackgraph models a deployable stack as an immutable graph of resource descriptors.
//
// Resources are declared through a Builder, which accumulates buckets, tables, layers,
// functions and gateways together with the edges between them (event bindings, permission
// grants, stack outputs). Build runs one validation pass over the closed set of resource
// kinds and either returns a complete Graph or an aggregated error; no partial graph is
// ever produced.
//
// Environment entries of a function are references to other declared resources, never
// literal names. The concrete names are assigned by the provisioning engine and resolved
// when the graph is materialized.
package stackgraph
