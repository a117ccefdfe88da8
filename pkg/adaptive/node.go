package adaptive

import (
	"sync"

	"github.com/go-logr/logr"
)

// invalidatable is the non-owning back-edge contract: a dependent is told
// that its upstream may have changed, before it next pulls. Holding an
// invalidatable must never keep the dependent alive on its own.
type invalidatable interface {
	invalidate()
}

// invalidateFunc adapts a closure to invalidatable.
type invalidateFunc func()

func (f invalidateFunc) invalidate() { f() }

// dependentRegistry is implemented by every reader in this package; it is
// how operators subscribe to the readers they pull from.
type dependentRegistry interface {
	addDependent(d invalidatable) int
	removeDependent(handle int)
}

// node carries the state shared by every reader: the per-node lock, the
// dependent handle table, staleness, the last pulled version and the
// disposed flag. The lock is scoped to the node; invalidation never holds
// two node locks at once, so per-node locking cannot deadlock even when a
// teardown callback re-enters the graph.
type node struct {
	mu         sync.Mutex
	name       string
	log        logr.Logger
	dependents map[int]invalidatable
	nextHandle int
	stale      bool
	lastPull   Version
	disposed   bool
}

func newNode(name string, log logr.Logger) node {
	return node{
		name:       name,
		log:        log.WithValues("reader", name),
		dependents: make(map[int]invalidatable),
		// A fresh reader is stale: its first pull seeds full state.
		stale: true,
	}
}

// addDependent registers a non-owning back-edge and returns its handle.
func (n *node) addDependent(d invalidatable) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextHandle++
	n.dependents[n.nextHandle] = d
	return n.nextHandle
}

// removeDependent drops a back-edge.
func (n *node) removeDependent(handle int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.dependents, handle)
}

// invalidate is the default staleness propagation: flag the node and pass
// the notification on, deduplicated so an already-stale subgraph is not
// re-walked. Readers with dirty-set bookkeeping wrap this with their own
// invalidate.
func (n *node) invalidate() {
	n.mu.Lock()
	deps := n.markStale()
	n.mu.Unlock()
	notify(deps)
}

// notifyDependents tells every dependent to invalidate, regardless of the
// node's own staleness. Inputs use this on every write.
func (n *node) notifyDependents() {
	n.mu.Lock()
	n.stale = true
	deps := make([]invalidatable, 0, len(n.dependents))
	for _, d := range n.dependents {
		deps = append(deps, d)
	}
	n.mu.Unlock()
	notify(deps)
}

// markStale flags the node and returns the dependents to notify, or nil
// when the node was already stale (dependents were notified then). Caller
// holds the node lock and must invoke the returned dependents after
// releasing it.
func (n *node) markStale() []invalidatable {
	if n.stale {
		return nil
	}
	n.stale = true
	deps := make([]invalidatable, 0, len(n.dependents))
	for _, d := range n.dependents {
		deps = append(deps, d)
	}
	return deps
}

// beginPull validates the pull contract. It returns run=false with a nil
// error when the pull is a no-op: either the same version was already
// pulled (idempotency: the state has advanced, the second call sees the
// empty delta) or the node is not suspected stale.
func (n *node) beginPull(version Version) (run bool, err error) {
	if n.disposed {
		return false, newContractError("pull on disposed reader %s", n.name)
	}
	if version == n.lastPull {
		return false, nil
	}
	if version < n.lastPull {
		return false, newContractError(
			"reader %s pulled at version %d, older than last pull %d", n.name, version, n.lastPull)
	}
	if !n.stale {
		n.lastPull = version
		return false, nil
	}
	return true, nil
}

// commitPull records a completed recomputation. Caller holds the node lock.
func (n *node) commitPull(version Version) {
	n.lastPull = version
	n.stale = false
}

func notify(deps []invalidatable) {
	for _, d := range deps {
		d.invalidate()
	}
}
