// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package artifact

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// keyPrefix namespaces artifact records inside the BadgerDB keyspace.
const keyPrefix = "artifact/"

// ErrPinned indicates the artifact is referenced by an in-flight verification
// and may not be deleted until the reader finishes.
var ErrPinned = errors.New("artifact pinned by in-flight reader")

// Catalog is the persistent artifact metadata store, backed by BadgerDB.
// All mutations run inside Badger transactions; UpdateStatus is a
// compare-and-set keyed by artifact ID.
type Catalog struct {
	db *badger.DB

	// pinned tracks artifacts held by in-flight verifications so retention
	// cannot delete bytes out from under a reader.
	pinnedMu sync.Mutex
	pinned   map[string]int
}

// OpenCatalog opens (or creates) a catalog at dir.
func OpenCatalog(dir string) (*Catalog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact catalog at %s: %w", dir, err)
	}
	return &Catalog{db: db, pinned: make(map[string]int)}, nil
}

// Close closes the underlying store.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func catalogKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Put inserts or replaces an artifact record.
func (c *Catalog) Put(a *Artifact) error {
	if a.ID == "" {
		return fmt.Errorf("artifact ID is required")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", a.ID, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(catalogKey(a.ID), data)
	})
}

// Get returns the artifact with the given ID, or ErrNotFound.
func (c *Catalog) Get(id string) (*Artifact, error) {
	var a *Artifact
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		a, err = getLocked(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// getLocked reads an artifact inside an open transaction.
func getLocked(txn *badger.Txn, id string) (*Artifact, error) {
	item, err := txn.Get(catalogKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", id, err)
	}

	var a Artifact
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", id, err)
	}
	return &a, nil
}

// Delete removes an artifact record. Pinned artifacts are refused.
func (c *Catalog) Delete(id string) error {
	if c.Pinned(id) {
		return fmt.Errorf("%w: %s", ErrPinned, id)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		if _, err := getLocked(txn, id); err != nil {
			return err
		}
		return txn.Delete(catalogKey(id))
	})
}

// List returns artifacts matching opts, sorted by creation time.
func (c *Catalog) List(opts ListOptions) ([]*Artifact, error) {
	var all []*Artifact

	err := c.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var a Artifact
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("failed to decode artifact record: %w", err)
			}
			if matchesList(&a, opts) {
				all = append(all, &a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if opts.SortDesc {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	return paginate(all, opts), nil
}

func matchesList(a *Artifact, opts ListOptions) bool {
	if opts.Kind != "" && a.Kind != opts.Kind {
		return false
	}
	if opts.Type != nil && a.Type != *opts.Type {
		return false
	}
	if opts.Status != nil && a.Status != *opts.Status {
		return false
	}
	return true
}

func paginate(all []*Artifact, opts ListOptions) []*Artifact {
	if opts.Offset >= len(all) {
		return []*Artifact{}
	}
	if opts.Offset > 0 {
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all
}

// UpdateStatus performs a compare-and-set status advance on the artifact.
// It fails with ErrStatusConflict when the stored status differs from
// expected, and ErrInvalidTransition when the lifecycle forbids the move.
func (c *Catalog) UpdateStatus(id string, expected, next Status) error {
	return c.db.Update(func(txn *badger.Txn) error {
		a, err := getLocked(txn, id)
		if err != nil {
			return err
		}
		if a.Status != expected {
			return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, a.Status, expected)
		}
		if !expected.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
		}

		a.Status = next
		if next.Terminal() && a.CompletedAt == nil {
			now := time.Now()
			a.CompletedAt = &now
			a.Duration = now.Sub(a.CreatedAt)
		}

		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact %s: %w", id, err)
		}
		return txn.Set(catalogKey(id), data)
	})
}

// Update applies fn to the stored artifact inside a transaction. Status
// changes made by fn must still respect the transition table; Update rejects
// illegal moves.
func (c *Catalog) Update(id string, fn func(*Artifact) error) error {
	return c.db.Update(func(txn *badger.Txn) error {
		a, err := getLocked(txn, id)
		if err != nil {
			return err
		}

		before := a.Status
		if err := fn(a); err != nil {
			return err
		}
		if a.Status != before && !before.CanTransition(a.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, before, a.Status)
		}
		if a.Status != before && a.Status.Terminal() && a.CompletedAt == nil {
			now := time.Now()
			a.CompletedAt = &now
			a.Duration = now.Sub(a.CreatedAt)
		}

		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact %s: %w", id, err)
		}
		return txn.Set(catalogKey(id), data)
	})
}

// LatestUsable returns the most recent completed-or-verified artifact of the
// given kind, or ErrNotFound when none exists.
func (c *Catalog) LatestUsable(kind Kind) (*Artifact, error) {
	return c.latest(kind, func(a *Artifact) bool {
		return a.Status.Usable()
	})
}

// LatestUsableOfType returns the most recent usable artifact of the given
// kind and type.
func (c *Catalog) LatestUsableOfType(kind Kind, t Type) (*Artifact, error) {
	return c.latest(kind, func(a *Artifact) bool {
		return a.Status.Usable() && a.Type == t
	})
}

func (c *Catalog) latest(kind Kind, match func(*Artifact) bool) (*Artifact, error) {
	all, err := c.List(ListOptions{Kind: kind, SortDesc: true})
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if match(a) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: no usable %s artifact", ErrNotFound, kind)
}

// Chain resolves the full ancestry of the artifact: the artifact itself first,
// then each parent up to and including the full base. It returns ErrChainBroken
// when any ancestor is missing from the catalog or not in a usable status.
func (c *Catalog) Chain(id string) ([]*Artifact, error) {
	var chain []*Artifact

	current, err := c.Get(id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s missing from catalog", ErrChainBroken, id)
	}
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for {
		if seen[current.ID] {
			return nil, fmt.Errorf("%w: parent cycle at %s", ErrChainBroken, current.ID)
		}
		seen[current.ID] = true
		chain = append(chain, current)

		if current.Type == TypeFull {
			return chain, nil
		}
		if current.ParentID == "" {
			return nil, fmt.Errorf("%w: %s %s has no parent", ErrChainBroken, current.Type, current.ID)
		}

		parent, err := c.Get(current.ParentID)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: parent %s of %s missing", ErrChainBroken, current.ParentID, current.ID)
		}
		if err != nil {
			return nil, err
		}
		if !parent.Status.Usable() {
			return nil, fmt.Errorf("%w: parent %s is %s", ErrChainBroken, parent.ID, parent.Status)
		}
		current = parent
	}
}

// HasDependents reports whether any artifact references id as its parent.
func (c *Catalog) HasDependents(id string) (bool, error) {
	all, err := c.List(ListOptions{})
	if err != nil {
		return false, err
	}
	for _, a := range all {
		if a.ParentID == id {
			return true, nil
		}
	}
	return false, nil
}

// Pin marks an artifact as held by an in-flight reader (verification or
// restore) so it cannot be pruned until Unpin. Pins nest.
func (c *Catalog) Pin(id string) {
	c.pinnedMu.Lock()
	defer c.pinnedMu.Unlock()
	c.pinned[id]++
}

// Unpin releases one pin on the artifact.
func (c *Catalog) Unpin(id string) {
	c.pinnedMu.Lock()
	defer c.pinnedMu.Unlock()
	if c.pinned[id] <= 1 {
		delete(c.pinned, id)
		return
	}
	c.pinned[id]--
}

// Pinned reports whether the artifact is currently held by a reader.
func (c *Catalog) Pinned(id string) bool {
	c.pinnedMu.Lock()
	defer c.pinnedMu.Unlock()
	return c.pinned[id] > 0
}

// MarkInterrupted flips every pending or in-progress artifact to failed.
// Called once at startup so a process crash never leaves a partial artifact
// claiming to be valid.
func (c *Catalog) MarkInterrupted(reason string) (int, error) {
	all, err := c.List(ListOptions{})
	if err != nil {
		return 0, err
	}

	var marked int
	for _, a := range all {
		if a.Status.Terminal() {
			continue
		}
		expected := a.Status
		if err := c.db.Update(func(txn *badger.Txn) error {
			stored, err := getLocked(txn, a.ID)
			if err != nil {
				return err
			}
			if stored.Status != expected {
				return nil // someone else advanced it; leave alone
			}
			stored.Status = StatusFailed
			stored.Error = reason
			now := time.Now()
			stored.CompletedAt = &now
			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			return txn.Set(catalogKey(stored.ID), data)
		}); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}
