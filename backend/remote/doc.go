// Package remote provides the object-storage cache backend. Each value is
// stored as one object at <prefix>/<key> in a configured bucket; a registry
// object at <prefix>/.registry.json maps every live key to its expiry.
//
// The registry is loaded once when the backend is constructed and kept in
// memory afterwards; every mutating operation rewrites the whole registry
// object. This makes the backend a snapshot consumer, not a coordinator:
// two instances working against the same bucket and prefix will each persist
// their own view of the registry and silently lose the other's writes. Run
// one instance per bucket/prefix, or accept that a lost registry entry
// degrades to a cache miss.
//
// Reads never fail the caller: a registered object that cannot be fetched
// or decoded is reported absent.
package remote
