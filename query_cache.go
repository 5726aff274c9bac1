package warehouse

import "sync"

// QueryHandle is an opaque handle returned by RegisterQuery/RegisterQueryExclude.
type QueryHandle uint32

// queryCacheEntry is one registered query: the signatures it requires, the
// signatures it must not contain, and the materialized archetype-base id
// list currently satisfying it (spec §3 "Query Cache").
type queryCacheEntry struct {
	require ComponentSignature
	exclude ComponentSignature
	results []uint32 // ArchetypeBase.ID() values, in discovery order
	present map[uint32]bool
}

func (e *queryCacheEntry) matches(base *ArchetypeBase) bool {
	for _, id := range e.require.IDs() {
		if !base.Archetype.UniqueSignature.Contains(id) && !base.Archetype.SharedSignature.Contains(id) {
			return false
		}
	}
	for _, id := range e.exclude.IDs() {
		if base.Archetype.UniqueSignature.Contains(id) || base.Archetype.SharedSignature.Contains(id) {
			return false
		}
	}
	return true
}

// QueryCache incrementally maintains, per registered query, the list of
// archetype bases whose signature currently satisfies it — avoiding a full
// catalog re-scan on every query evaluation (spec §3/§4.8).
type QueryCache struct {
	mu      sync.RWMutex
	entries map[QueryHandle]*queryCacheEntry
	nextID  QueryHandle
}

// NewQueryCache returns an empty query cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{entries: make(map[QueryHandle]*queryCacheEntry), nextID: 1}
}

// RegisterQuery registers a require-only query and backfills it against
// every base already in catalog.
func (qc *QueryCache) RegisterQuery(require ComponentSignature, catalog *ArchetypeCatalog) QueryHandle {
	return qc.RegisterQueryExclude(require, ComponentSignature{}, catalog)
}

// RegisterQueryExclude registers a query with both required and excluded
// components, the general form spec §4.8 describes.
func (qc *QueryCache) RegisterQueryExclude(require, exclude ComponentSignature, catalog *ArchetypeCatalog) QueryHandle {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	entry := &queryCacheEntry{require: require, exclude: exclude, present: make(map[uint32]bool)}
	for _, arch := range catalog.All() {
		for _, base := range arch.Bases {
			if entry.matches(base) {
				entry.results = append(entry.results, base.ID())
				entry.present[base.ID()] = true
			}
		}
	}
	handle := qc.nextID
	qc.nextID++
	qc.entries[handle] = entry
	return handle
}

// UpdateAdd is the incremental-maintenance hook meant to be wired as
// ArchetypeCatalog.FindOrCreate's onCreate callback: every live query is
// re-tested against the bases of a freshly created archetype.
func (qc *QueryCache) UpdateAdd(arch *MainArchetype) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	for _, entry := range qc.entries {
		for _, base := range arch.Bases {
			if entry.matches(base) && !entry.present[base.ID()] {
				entry.results = append(entry.results, base.ID())
				entry.present[base.ID()] = true
			}
		}
	}
}

// UpdateAddBase re-tests every live query against a single newly created
// base of an already-known archetype (the common case once CreateBase is
// called after the archetype itself already exists).
func (qc *QueryCache) UpdateAddBase(base *ArchetypeBase) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	for _, entry := range qc.entries {
		if entry.matches(base) && !entry.present[base.ID()] {
			entry.results = append(entry.results, base.ID())
			entry.present[base.ID()] = true
		}
	}
}

// GetResults returns the materialized archetype-base id list for handle.
func (qc *QueryCache) GetResults(handle QueryHandle) ([]uint32, bool) {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	entry, ok := qc.entries[handle]
	if !ok {
		return nil, false
	}
	out := make([]uint32, len(entry.results))
	copy(out, entry.results)
	return out, true
}

// Unregister drops a query from the cache.
func (qc *QueryCache) Unregister(handle QueryHandle) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	delete(qc.entries, handle)
}
