// Package metricid assigns stable numeric identifiers to peer addresses so
// that metrics can refer to devices without recording the address itself.
// Identifiers for saved (bonded) devices survive in a large cache backed by
// user callbacks; unsaved devices live in a small scan cache and age out.
package metricid

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/muxable/lehci/pkg/hci"
	"go.uber.org/zap"
)

const (
	MinID = 1
	MaxID = 65534

	maxTemporaryDevices = 200
	maxSavedDevices     = 65000
)

// Callback persists or forgets an address-to-identifier binding. Callbacks
// run with the allocator's lock held and must not call back into it.
type Callback func(addr hci.Address, id int) error

type Allocator struct {
	mu        sync.Mutex
	nextID    int
	used      map[int]struct{}
	saved     *lru.Cache[hci.Address, int]
	temporary *lru.Cache[hci.Address, int]
	save      Callback
	forget    Callback
	promoting bool
	closing   bool
}

// NewAllocator restores previously saved bindings and installs the persistence
// callbacks. Saved identifiers must be within [MinID, MaxID].
func NewAllocator(savedDevices map[hci.Address]int, save, forget Callback) (*Allocator, error) {
	if len(savedDevices) > maxSavedDevices {
		return nil, fmt.Errorf("metricid: %d saved devices exceeds capacity %d", len(savedDevices), maxSavedDevices)
	}
	a := &Allocator{nextID: MinID, used: make(map[int]struct{}), save: save, forget: forget}

	var err error
	a.temporary, err = lru.NewWithEvict(maxTemporaryDevices, func(addr hci.Address, id int) {
		if a.promoting || a.closing {
			return
		}
		delete(a.used, id)
		zap.L().Debug("evicting unsaved device", zap.Stringer("address", addr), zap.Int("id", id))
	})
	if err != nil {
		return nil, err
	}
	a.saved, err = lru.NewWithEvict(maxSavedDevices, func(addr hci.Address, id int) {
		if a.closing {
			return
		}
		delete(a.used, id)
		if a.forget == nil {
			return
		}
		if err := a.forget(addr, id); err != nil {
			zap.L().Warn("forget callback failed", zap.Stringer("address", addr), zap.Int("id", id), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}

	for addr, id := range savedDevices {
		if id < MinID || id > MaxID {
			return nil, fmt.Errorf("metricid: saved id %d for %s out of range", id, addr)
		}
		if id+1 > a.nextID {
			a.nextID = id + 1
		}
		a.used[id] = struct{}{}
		a.saved.Add(addr, id)
	}
	if a.nextID > MaxID {
		a.nextID = MinID
	}
	return a, nil
}

// Allocate returns the identifier bound to addr, assigning the next free one
// on first sight. New bindings are temporary until Save is called.
func (a *Allocator) Allocate(addr hci.Address) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.temporary.Get(addr); ok {
		return id
	}
	if id, ok := a.saved.Get(addr); ok {
		return id
	}
	// the caches together hold fewer entries than the id space, so the scan
	// always terminates on a free id.
	id := a.nextID
	for {
		if _, ok := a.used[id]; !ok {
			break
		}
		id++
		if id > MaxID {
			id = MinID
		}
	}
	a.nextID = id + 1
	if a.nextID > MaxID {
		a.nextID = MinID
	}
	a.used[id] = struct{}{}
	a.temporary.Add(addr, id)
	return id
}

// Save promotes addr's binding from the temporary cache to the saved cache
// and persists it. Saving an already-saved device is a no-op.
func (a *Allocator) Save(addr hci.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.saved.Get(addr); ok {
		return nil
	}
	id, ok := a.temporary.Get(addr)
	if !ok {
		return errors.New("metricid: device was never allocated an id")
	}
	a.promoting = true
	a.temporary.Remove(addr)
	a.promoting = false
	a.saved.Add(addr, id)
	if a.save != nil {
		if err := a.save(addr, id); err != nil {
			return err
		}
	}
	return nil
}

// Forget drops a saved binding, notifies the forget callback and frees the
// identifier for reuse.
func (a *Allocator) Forget(addr hci.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.saved.Get(addr); !ok {
		return errors.New("metricid: device was never saved")
	}
	a.saved.Remove(addr)
	return nil
}

// IsEmpty reports whether no bindings exist in either cache.
func (a *Allocator) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saved.Len() == 0 && a.temporary.Len() == 0
}

// Close drops both caches without running the persistence callbacks. The
// allocator must not be used afterwards.
func (a *Allocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closing = true
	a.temporary.Purge()
	a.saved.Purge()
	a.used = nil
}
