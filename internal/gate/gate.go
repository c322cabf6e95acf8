// Package gate implements the cheap precondition check in front of a full
// reconciliation cycle. It is deliberately false-negative-free: it may let
// through a cycle that finds nothing to do, but any event that could
// unblock a task (an issue closing, an agent PR appearing) flips it open.
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Store persists the closed-set hash between cycles. Injected so the gate
// is testable with a fake; the file-backed implementation lives in the
// state package.
type Store interface {
	GateHash() string
	SetGateHash(h string) error
}

// Gate decides whether a reconciliation cycle is worth running.
type Gate struct {
	store Store
}

// New creates a Gate over the given store.
func New(store Store) *Gate {
	return &Gate{store: store}
}

// ShouldReconcile returns true if there are open agent PRs or the closed
// issue set changed since the previous call. The new hash is persisted
// regardless of the outcome.
func (g *Gate) ShouldReconcile(closedIDs []int, agentPRCount int) (bool, error) {
	prev := g.store.GateHash()
	cur := HashClosedSet(closedIDs)

	if err := g.store.SetGateHash(cur); err != nil {
		return false, fmt.Errorf("persist gate hash: %w", err)
	}

	return agentPRCount > 0 || cur != prev, nil
}

// HashClosedSet hashes a closed-issue id set. Sorted before joining so the
// hash is order-independent.
func HashClosedSet(ids []int) string {
	sorted := append([]int{}, ids...)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}
