package lead

import (
	"sync"
	"time"
)

// Counts are the dashboard aggregates derived from the repository.
type Counts struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Drafting int `json:"drafting"`
	Review   int `json:"review"`
	Ready    int `json:"ready"`
	Sent     int `json:"sent"`
}

// Repository owns the lead collection. Every method is synchronous and total:
// unknown ids are reported, never panicked on.
type Repository interface {
	// InsertMany prepends leads, keeping the batch's own order.
	InsertMany(leads []Lead)
	// Update applies fn to a copy of the lead and commits it if fn returns nil.
	// It reports false (and does nothing) when the id is unknown.
	Update(id string, fn func(*Lead) error) (bool, error)
	// Delete removes the lead and reports whether it existed.
	Delete(id string) bool
	Get(id string) (Lead, bool)
	List() []Lead
	ListByStatus(status Status) []Lead
	Counts() Counts
}

// Memory is an in-memory Repository ordered most-recent-first.
type Memory struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Lead
	now   func() time.Time
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{
		byID: make(map[string]*Lead),
		now:  time.Now,
	}
}

func (m *Memory) InsertMany(leads []Lead) {
	if len(leads) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(leads))
	for _, l := range leads {
		if l.ID == "" {
			continue
		}
		if _, exists := m.byID[l.ID]; exists {
			// ids are immutable and unique; a duplicate insert is ignored.
			continue
		}
		c := l.Clone()
		m.byID[c.ID] = &c
		ids = append(ids, c.ID)
	}
	m.order = append(ids, m.order...)
}

func (m *Memory) Update(id string, fn func(*Lead) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return true, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = m.now()
	m.byID[id] = &next
	return true, nil
}

func (m *Memory) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *Memory) Get(id string) (Lead, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.byID[id]
	if !ok {
		return Lead{}, false
	}
	return l.Clone(), true
}

func (m *Memory) List() []Lead {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Lead, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id].Clone())
	}
	return out
}

func (m *Memory) ListByStatus(status Status) []Lead {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Lead
	for _, id := range m.order {
		if l := m.byID[id]; l.Status == status {
			out = append(out, l.Clone())
		}
	}
	return out
}

func (m *Memory) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := Counts{Total: len(m.order)}
	for _, id := range m.order {
		switch m.byID[id].Status {
		case StatusNew:
			c.New++
		case StatusDrafting:
			c.Drafting++
		case StatusReview:
			c.Review++
		case StatusReady:
			c.Ready++
		case StatusSent:
			c.Sent++
		}
	}
	return c
}
