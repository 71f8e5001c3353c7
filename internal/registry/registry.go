// Package registry holds the durable subscription intent. The live
// connection's topic list is always derivable from it, never the other way
// around.
package registry

import (
	"sort"
	"sync"

	"marketfeed/internal/model/enum"
)

// Intent is one desired (symbol, kind) subscription pair.
type Intent struct {
	Symbol string
	Kind   enum.DataKind
}

// Registry tracks the set of (symbol, kind) pairs that should be live right
// now. All mutations are idempotent.
type Registry struct {
	mu      sync.Mutex
	symbols map[string]map[enum.DataKind]struct{}
}

func New() *Registry {
	return &Registry{
		symbols: make(map[string]map[enum.DataKind]struct{}),
	}
}

// Add registers the kinds for a symbol. Adding an already-present pair is a
// no-op. Returns the pairs that were newly added.
func (r *Registry) Add(symbol string, kinds ...enum.DataKind) []Intent {
	if symbol == "" || len(kinds) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.symbols[symbol]
	if set == nil {
		set = make(map[enum.DataKind]struct{}, len(kinds))
		r.symbols[symbol] = set
	}
	var added []Intent
	for _, kind := range kinds {
		if !kind.IsAvailable() {
			continue
		}
		if _, exists := set[kind]; exists {
			continue
		}
		set[kind] = struct{}{}
		added = append(added, Intent{Symbol: symbol, Kind: kind})
	}
	return added
}

// Remove deletes the kinds for a symbol; with no kinds the symbol is removed
// entirely. Removing an absent pair is a no-op. Returns the pairs removed.
func (r *Registry) Remove(symbol string, kinds ...enum.DataKind) []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.symbols[symbol]
	if set == nil {
		return nil
	}

	var removed []Intent
	if len(kinds) == 0 {
		for kind := range set {
			removed = append(removed, Intent{Symbol: symbol, Kind: kind})
		}
		delete(r.symbols, symbol)
		sortIntents(removed)
		return removed
	}

	for _, kind := range kinds {
		if _, exists := set[kind]; !exists {
			continue
		}
		delete(set, kind)
		removed = append(removed, Intent{Symbol: symbol, Kind: kind})
	}
	if len(set) == 0 {
		delete(r.symbols, symbol)
	}
	sortIntents(removed)
	return removed
}

// Snapshot returns every desired pair, ordered for deterministic replay.
func (r *Registry) Snapshot() []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	intents := make([]Intent, 0, len(r.symbols))
	for symbol, set := range r.symbols {
		for kind := range set {
			intents = append(intents, Intent{Symbol: symbol, Kind: kind})
		}
	}
	sortIntents(intents)
	return intents
}

// Contains reports whether any kind is still desired for the symbol.
func (r *Registry) Contains(symbol string) bool {
	r.mu.Lock()
	_, ok := r.symbols[symbol]
	r.mu.Unlock()
	return ok
}

// SymbolCount returns the number of symbols with at least one desired kind.
func (r *Registry) SymbolCount() int {
	r.mu.Lock()
	count := len(r.symbols)
	r.mu.Unlock()
	return count
}

func sortIntents(intents []Intent) {
	sort.Slice(intents, func(i, j int) bool {
		if intents[i].Symbol != intents[j].Symbol {
			return intents[i].Symbol < intents[j].Symbol
		}
		return intents[i].Kind < intents[j].Kind
	})
}
