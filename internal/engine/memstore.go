package engine

import "sync"

// MemoryExposureStore is an in-process ExposureStore for tests and single
// node deployments. Safe for concurrent use.
type MemoryExposureStore struct {
	mu    sync.Mutex
	stats map[int64]*ExposureStats
}

func NewMemoryExposureStore() *MemoryExposureStore {
	return &MemoryExposureStore{stats: make(map[int64]*ExposureStats)}
}

func (m *MemoryExposureStore) Get(itemID int64) (ExposureStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[itemID]; ok {
		return *s, nil
	}
	return ExposureStats{}, nil
}

func (m *MemoryExposureStore) IncrementConsidered(itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(itemID).TimesConsidered++
	return nil
}

func (m *MemoryExposureStore) IncrementAdmitted(itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(itemID).TimesAdmitted++
	return nil
}

func (m *MemoryExposureStore) IncrementAdministered(itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(itemID).TimesAdministered++
	return nil
}

// entry returns the counter struct for itemID, creating it lazily. Callers
// must hold mu.
func (m *MemoryExposureStore) entry(itemID int64) *ExposureStats {
	s, ok := m.stats[itemID]
	if !ok {
		s = &ExposureStats{}
		m.stats[itemID] = s
	}
	return s
}
