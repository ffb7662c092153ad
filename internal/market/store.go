package market

import (
	"sync"
	"time"
)

// DefaultHistoryLimit caps the number of samples kept per symbol.
const DefaultHistoryLimit = 120

// Source names the origin of a price update.
type Source string

const (
	SourceDefault   Source = "default"
	SourceSimulated Source = "simulated"
	SourceOracle    Source = "oracle"
	SourcePoller    Source = "poller"
)

// TokenRow is the current quote for one token.
type TokenRow struct {
	Symbol    Symbol    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	PrevPrice float64   `json:"prevPrice"`
	Bid       *float64  `json:"bid,omitempty"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoreOptions tune the price store.
type StoreOptions struct {
	HistoryLimit int
	// Seed overrides DefaultPrice for individual symbols.
	Seed map[Symbol]float64
	Now  func() time.Time
}

// Store holds current rows and bounded price history for the fixed token set.
// All mutations go through Apply.
type Store struct {
	mu      sync.RWMutex
	rows    map[Symbol]*TokenRow
	history map[Symbol][]float64
	limit   int
	now     func() time.Time
}

// NewStore seeds one row and one history sample per tracked symbol.
func NewStore(opts StoreOptions) *Store {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		rows:    make(map[Symbol]*TokenRow, len(Symbols)),
		history: make(map[Symbol][]float64, len(Symbols)),
		limit:   limit,
		now:     now,
	}

	started := now().UTC()
	for _, sym := range Symbols {
		price := DefaultPrice(sym)
		if seeded, ok := opts.Seed[sym]; ok && IsFinite(seeded) && seeded > 0 {
			price = seeded
		}
		s.rows[sym] = &TokenRow{
			Symbol:    sym,
			Name:      sym.Name(),
			Price:     price,
			PrevPrice: price,
			Source:    SourceDefault,
			UpdatedAt: started,
		}
		s.history[sym] = []float64{price}
	}
	return s
}

// Apply records newPrice for sym. The previous price, bid and history sample are
// updated together under the store lock. Non-finite prices and unknown symbols are
// rejected without touching any state; the returned flag reports whether the update
// was applied.
func (s *Store) Apply(sym Symbol, newPrice float64, src Source) (TokenRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(sym, newPrice, src)
}

func (s *Store) applyLocked(sym Symbol, newPrice float64, src Source) (TokenRow, bool) {
	row, ok := s.rows[sym]
	if !ok {
		return TokenRow{}, false
	}
	if !IsFinite(newPrice) {
		return row.clone(), false
	}

	bid := BidFor(newPrice)
	row.PrevPrice = row.Price
	row.Price = newPrice
	row.Bid = &bid
	row.Source = src
	row.UpdatedAt = s.now().UTC()

	s.history[sym] = pushBounded(s.history[sym], newPrice, s.limit)
	return row.clone(), true
}

// Tick advances every symbol by one random-walk step. Symbols for which skip returns
// true are left untouched. skip is evaluated before the store lock is taken; each
// step is computed from the price it replaces.
func (s *Store) Tick(r Rand, skip func(Symbol) bool) []TokenRow {
	walk := make([]Symbol, 0, len(Symbols))
	for _, sym := range Symbols {
		if skip == nil || !skip(sym) {
			walk = append(walk, sym)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]TokenRow, 0, len(walk))
	for _, sym := range walk {
		current, ok := s.rows[sym]
		if !ok {
			continue
		}
		next := NextPrice(current.Price, r.Float64())
		if row, applied := s.applyLocked(sym, next, SourceSimulated); applied {
			updated = append(updated, row)
		}
	}
	return updated
}

// Row returns a copy of the row for sym.
func (s *Store) Row(sym Symbol) (TokenRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[sym]
	if !ok {
		return TokenRow{}, false
	}
	return row.clone(), true
}

// Rows returns copies of all rows in display order.
func (s *Store) Rows() []TokenRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TokenRow, 0, len(Symbols))
	for _, sym := range Symbols {
		out = append(out, s.rows[sym].clone())
	}
	return out
}

// History returns a copy of the samples recorded for sym, oldest first.
func (s *Store) History(sym Symbol) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.history[sym]...)
}

// Snapshot is a consistent copy of rows and history.
type Snapshot struct {
	Rows    []TokenRow           `json:"rows"`
	History map[Symbol][]float64 `json:"history"`
	// HistoryLimit is the per-symbol sample cap.
	HistoryLimit int       `json:"historyLimit"`
	TakenAt      time.Time `json:"takenAt"`
}

// Snapshot copies rows and history under a single read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Rows:         make([]TokenRow, 0, len(Symbols)),
		History:      make(map[Symbol][]float64, len(Symbols)),
		HistoryLimit: s.limit,
		TakenAt:      s.now().UTC(),
	}
	for _, sym := range Symbols {
		snap.Rows = append(snap.Rows, s.rows[sym].clone())
		snap.History[sym] = append([]float64(nil), s.history[sym]...)
	}
	return snap
}

func (r *TokenRow) clone() TokenRow {
	out := *r
	if r.Bid != nil {
		bid := *r.Bid
		out.Bid = &bid
	}
	return out
}

func pushBounded(samples []float64, value float64, limit int) []float64 {
	samples = append(samples, value)
	if over := len(samples) - limit; over > 0 {
		trimmed := make([]float64, limit)
		copy(trimmed, samples[over:])
		samples = trimmed
	}
	return samples
}
