package application

import (
	"sort"
	"sync"
)

// SnapshotRegistry maps device ids to attached consumers. It is safe for
// concurrent use; it does not manage consumer lifecycles.
type SnapshotRegistry struct {
	consumers map[string]Consumer
	mu        sync.RWMutex
}

func NewSnapshotRegistry() *SnapshotRegistry {
	return &SnapshotRegistry{consumers: make(map[string]Consumer)}
}

// Attach replaces any consumer previously attached for deviceID.
func (r *SnapshotRegistry) Attach(deviceID string, consumer Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[deviceID] = consumer
}

func (r *SnapshotRegistry) Detach(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, deviceID)
}

func (r *SnapshotRegistry) Lookup(deviceID string) (Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[deviceID]
	return c, ok
}

func (r *SnapshotRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

// DeviceIDs returns the attached device ids in sorted order.
func (r *SnapshotRegistry) DeviceIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.consumers))
	for id := range r.consumers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *SnapshotRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers = make(map[string]Consumer)
}
