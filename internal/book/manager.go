package book

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Cell is a single shared, interior-mutable order book. The owning Manager task is
// the sole writer; any number of external readers may call Snapshot concurrently.
type Cell struct {
	mu   sync.RWMutex
	book domain.OrderBook
}

// Snapshot returns a read-only copy of the book's current state.
func (c *Cell) Snapshot() domain.OrderBook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.book.Clone()
}

func (c *Cell) write(book domain.OrderBook) {
	c.mu.Lock()
	c.book = book
	c.mu.Unlock()
}

// Map is a keyed collection of shared Cells, keyed by InstrumentKey. It supports
// both single- and multi-instrument use and, when every key is indexed, an
// insertion-ordered view addressable by InstrumentIndex.
type Map struct {
	mu        sync.RWMutex
	byName    map[domain.InstrumentNameExchange]*Cell
	indexed   map[domain.InstrumentIndex]*Cell
	insertion []domain.InstrumentKey
}

func NewMap() *Map {
	return &Map{
		byName:  make(map[domain.InstrumentNameExchange]*Cell),
		indexed: make(map[domain.InstrumentIndex]*Cell),
	}
}

// Get returns the Cell for key, creating an empty one if this is the first sighting.
func (m *Map) Get(key domain.InstrumentKey) *Cell {
	m.mu.RLock()
	if c, ok := m.byName[key.Name]; ok {
		m.mu.RUnlock()
		return c
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byName[key.Name]; ok {
		return c
	}
	c := &Cell{}
	m.byName[key.Name] = c
	if key.Indexed() {
		m.indexed[key.Index] = c
	}
	m.insertion = append(m.insertion, key)
	return c
}

// GetByIndex returns the Cell registered at a dense InstrumentIndex, if any.
func (m *Map) GetByIndex(idx domain.InstrumentIndex) (*Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.indexed[idx]
	return c, ok
}

// Keys returns instrument keys in insertion order.
func (m *Map) Keys() []domain.InstrumentKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.InstrumentKey(nil), m.insertion...)
}

// Manager owns a Map plus the per-instrument Sequencer state and applies inbound
// venue Delta values to it through Apply, returning the resulting
// domain.OrderBookEvent (C8).
type Manager struct {
	books       *Map
	sequencers  map[domain.InstrumentNameExchange]*Sequencer
	newSequencer func() *Sequencer
	mu          sync.Mutex
	log         zerolog.Logger
}

// NewManager builds a Manager whose sequencers are all constructed from newSequencer
// (typically a closure over a single venue's Rule, since a Manager is per-venue).
func NewManager(newSequencer func() *Sequencer, log zerolog.Logger) *Manager {
	return &Manager{
		books:        NewMap(),
		sequencers:   make(map[domain.InstrumentNameExchange]*Sequencer),
		newSequencer: newSequencer,
		log:          log,
	}
}

// Books exposes the underlying Map for read access.
func (m *Manager) Books() *Map { return m.books }

func (m *Manager) sequencerFor(key domain.InstrumentKey) *Sequencer {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sequencers[key.Name]
	if !ok {
		s = m.newSequencer()
		m.sequencers[key.Name] = s
	}
	return s
}

// Apply routes a Delta through the per-instrument Sequencer and, if accepted,
// mutates the shared Cell. It returns the OrderBookEvent to forward downstream
// (nil if the delta was a dropped/stale update) and any terminal error.
func (m *Manager) Apply(key domain.InstrumentKey, d Delta) (*domain.OrderBookEvent, error) {
	seq := m.sequencerFor(key)
	accept, err := seq.Apply(d)
	if err != nil {
		return nil, err
	}
	if !accept {
		return nil, nil
	}

	cell := m.books.Get(key)
	if d.IsSnapshot {
		book := ApplySnapshot(d)
		cell.write(book)
		return &domain.OrderBookEvent{EventKind: domain.Snapshot, Book: book.Clone()}, nil
	}

	book := ApplyUpdate(cell.Snapshot(), d)
	if err := book.Validate(); err != nil {
		m.log.Error().Err(err).Str("instrument", string(key.Name)).Msg("book crossed after update, forcing resync")
		seq.status = Desynced
		return nil, domain.NewInvalidSequenceError(seq.lastUpdateID, d.FirstUpdateID)
	}
	cell.write(book)
	return &domain.OrderBookEvent{EventKind: domain.Update, Book: book.Clone()}, nil
}

// Reconnected resets every sequencer owned by this manager to AwaitingSnapshot, per
// spec §4.7: "Reconnecting events for a venue cause affected books to be reset to
// empty at the next snapshot."
func (m *Manager) Reconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sequencers {
		s.Reset()
	}
}
