package hub

import "sync"

// noIndex is the registry key used for a module that announced no index —
// the Python original keys its per-module map by None for this case; Go has
// no natural "untyped nil" int key, so a sentinel plays the same role.
const noIndex = -1

// moduleRegistry tracks announced peers by (name, index), so that
// ui.configure can address "the second hand module" rather than broadcast.
// Safe for concurrent use.
type moduleRegistry struct {
	mu      sync.RWMutex
	modules map[string]map[int]*Peer
}

func newModuleRegistry() *moduleRegistry {
	return &moduleRegistry{modules: make(map[string]map[int]*Peer)}
}

// register announces a peer under (name, index), replacing any peer
// previously registered at that slot.
func (r *moduleRegistry) register(name string, index *int, peer *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := indexKey(index)
	if r.modules[name] == nil {
		r.modules[name] = make(map[int]*Peer)
	}
	r.modules[name][key] = peer
}

// unregister removes a peer's announced slot, pruning the module's entry
// entirely once empty.
func (r *moduleRegistry) unregister(name string, index *int) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.modules[name]
	if !ok {
		return
	}
	delete(group, indexKey(index))
	if len(group) == 0 {
		delete(r.modules, name)
	}
}

// lookup returns the peer registered at (name, index), if any.
func (r *moduleRegistry) lookup(name string, index *int) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.modules[name]
	if !ok {
		return nil, false
	}
	peer, ok := group[indexKey(index)]
	return peer, ok
}

func indexKey(index *int) int {
	if index == nil {
		return noIndex
	}
	return *index
}
