package progress

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"lifeboat/internal/eventbus"
	"lifeboat/internal/types"
	"sort"
	"sync"
	"time"
)

// Registry holds the live progress of running operations. It is process
// local and lost on restart; the persisted record is authoritative.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*types.Progress
	bus     eventbus.Bus
}

// Mutation edits a progress entry in place while the registry lock is held.
type Mutation func(p *types.Progress)

func NewRegistry(bus eventbus.Bus) *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*types.Progress),
		bus:     bus,
	}
}

// Start tracks an operation in the status of its record. The status is also
// the first phase.
func (r *Registry) Start(id uuid.UUID, kind types.OperationKind, status string) {
	p := &types.Progress{
		OperationID: id,
		Kind:        kind,
		Status:      status,
		Phase:       status,
		StartedAt:   time.Now(),
	}

	r.mu.Lock()
	r.entries[id] = p
	snapshot := *p
	r.mu.Unlock()

	r.publish(eventbus.Info, snapshot)
}

// Update applies m to the entry of id. Progress never moves backwards.
// Unknown ids are ignored.
func (r *Registry) Update(id uuid.UUID, m Mutation) {
	r.mu.Lock()
	p, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	previous := p.Progress
	m(p)
	if p.Progress < previous {
		p.Progress = previous
	}
	if p.Progress > 100 {
		p.Progress = 100
	}
	snapshot := *p
	r.mu.Unlock()

	r.publish(eventbus.Info, snapshot)
}

// Phase is shorthand for moving to a new phase at a given percentage.
func (r *Registry) Phase(id uuid.UUID, phase string, percent int) {
	r.Update(id, func(p *types.Progress) {
		p.Phase = phase
		p.Progress = percent
	})
}

// SetStatus mirrors a status change of the record.
func (r *Registry) SetStatus(id uuid.UUID, status string) {
	r.Update(id, func(p *types.Progress) {
		p.Status = status
	})
}

func (r *Registry) Get(id uuid.UUID) (types.Progress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.entries[id]
	if !ok {
		return types.Progress{}, false
	}
	return *p, true
}

// Remove drops the entry and tells stream subscribers the operation is over.
func (r *Registry) Remove(id uuid.UUID, status string, errMessage string) {
	r.mu.Lock()
	p, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	final := *p
	final.Status = status
	final.ErrorMessage = errMessage
	if errMessage == "" {
		final.Progress = 100
	}
	evType := eventbus.Complete
	if errMessage != "" {
		evType = eventbus.Error
	}
	r.publish(evType, final)
}

func (r *Registry) List(kind types.OperationKind) []types.Progress {
	r.mu.RLock()
	result := make([]types.Progress, 0, len(r.entries))
	for _, p := range r.entries {
		if kind == "" || p.Kind == kind {
			result = append(result, *p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

func (r *Registry) Count(kind types.OperationKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.entries {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Registry) publish(evType eventbus.Type, p types.Progress) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	r.bus.BroadcastWithData(p.OperationID.String(), evType, p.Phase, data)
}
