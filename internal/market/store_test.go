package market

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestNewStoreSeedsDefaults(t *testing.T) {
	s := NewStore(StoreOptions{})

	rows := s.Rows()
	require.Len(t, rows, 4)
	for i, sym := range Symbols {
		assert.Equal(t, sym, rows[i].Symbol)
		assert.Equal(t, DefaultPrice(sym), rows[i].Price)
		assert.Equal(t, DefaultPrice(sym), rows[i].PrevPrice)
		assert.Nil(t, rows[i].Bid)
		assert.Equal(t, []float64{DefaultPrice(sym)}, s.History(sym))
	}
}

func TestApplyTracksPreviousPrice(t *testing.T) {
	s := NewStore(StoreOptions{})
	prices := []float64{75.19, 75.2, 74.9, 74.9, 80.123}

	prev := DefaultPrice(Gold)
	for _, p := range prices {
		row, ok := s.Apply(Gold, p, SourceOracle)
		require.True(t, ok)
		assert.Equal(t, prev, row.PrevPrice)
		assert.Equal(t, p, row.Price)
		require.NotNil(t, row.Bid)
		assert.Equal(t, BidFor(p), *row.Bid)
		prev = p
	}
}

func TestApplyGoldTickExample(t *testing.T) {
	s := NewStore(StoreOptions{})
	before := len(s.History(Gold))

	row, ok := s.Apply(Gold, 75.19, SourceSimulated)
	require.True(t, ok)

	assert.Equal(t, 75.19, row.Price)
	assert.Equal(t, 75.0, row.PrevPrice)
	require.NotNil(t, row.Bid)
	assert.Equal(t, 75.115, *row.Bid)
	assert.Len(t, s.History(Gold), before+1)
}

func TestApplyRejectsNonFinite(t *testing.T) {
	s := NewStore(StoreOptions{})
	_, ok := s.Apply(Silver, 1.2, SourceOracle)
	require.True(t, ok)
	before, _ := s.Row(Silver)
	historyBefore := s.History(Silver)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		row, ok := s.Apply(Silver, bad, SourceOracle)
		assert.False(t, ok)
		assert.Equal(t, before.Price, row.Price)
		assert.Equal(t, before.PrevPrice, row.PrevPrice)
		require.NotNil(t, row.Bid)
		assert.Equal(t, *before.Bid, *row.Bid)
	}
	assert.Equal(t, historyBefore, s.History(Silver))
}

func TestApplyUnknownSymbol(t *testing.T) {
	s := NewStore(StoreOptions{})
	_, ok := s.Apply(Symbol("BTC"), 10, SourceOracle)
	assert.False(t, ok)
}

func TestHistoryKeepsMostRecentSamples(t *testing.T) {
	s := NewStore(StoreOptions{})
	for i := 1; i <= 300; i++ {
		s.Apply(Platinum, float64(i), SourcePoller)
		assert.LessOrEqual(t, len(s.History(Platinum)), DefaultHistoryLimit)
	}

	history := s.History(Platinum)
	require.Len(t, history, DefaultHistoryLimit)
	for i, v := range history {
		assert.Equal(t, float64(300-DefaultHistoryLimit+1+i), v)
	}
}

func TestHistoryCopiesAreIndependent(t *testing.T) {
	s := NewStore(StoreOptions{HistoryLimit: 3})
	h := s.History(Gold)
	h[0] = -1
	assert.Equal(t, 75.0, s.History(Gold)[0])

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.HistoryLimit)
	snap.History[Gold][0] = -1
	assert.Equal(t, 75.0, s.History(Gold)[0])
}

func TestTickStaysWithinDriftBounds(t *testing.T) {
	for _, u := range []float64{0, 0.25, 0.5, 0.75, 0.999999} {
		d := Drift(u)
		assert.GreaterOrEqual(t, d, 0.9975)
		assert.LessOrEqual(t, d, 1.0025)
	}

	s := NewStore(StoreOptions{})
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		before := s.Rows()
		after := s.Tick(r, nil)
		require.Len(t, after, 4)
		for j, row := range after {
			p := before[j].Price
			// rounding to 3 decimals may move the value by at most 0.0005
			assert.GreaterOrEqual(t, row.Price, 0.9975*p-0.0005)
			assert.LessOrEqual(t, row.Price, 1.0025*p+0.0005)
			assert.Equal(t, p, row.PrevPrice)
			assert.Equal(t, SourceSimulated, row.Source)
		}
	}
}

func TestTickSkipsSuppressedSymbols(t *testing.T) {
	s := NewStore(StoreOptions{})
	updated := s.Tick(fixedRand(1), func(sym Symbol) bool { return sym == Gold })

	require.Len(t, updated, 3)
	row, _ := s.Row(Gold)
	assert.Equal(t, 75.0, row.Price)
	assert.Len(t, s.History(Gold), 1)
}

func TestConcurrentApplyKeepsPairsConsistent(t *testing.T) {
	s := NewStore(StoreOptions{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Apply(Palladium, float64(w*1000+i), SourceOracle)
				_ = s.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	row, _ := s.Row(Palladium)
	require.NotNil(t, row.Bid)
	assert.Equal(t, BidFor(row.Price), *row.Bid)
	assert.Len(t, s.History(Palladium), DefaultHistoryLimit)
}

func TestTickStepsFromThePriceItReplaces(t *testing.T) {
	s := NewStore(StoreOptions{})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.Apply(Gold, float64(1000+i%500), SourceOracle)
		}
	}()

	r := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		for _, row := range s.Tick(r, nil) {
			assert.GreaterOrEqual(t, row.Price, 0.9975*row.PrevPrice-0.0005)
			assert.LessOrEqual(t, row.Price, 1.0025*row.PrevPrice+0.0005)
		}
	}
	close(stop)
	wg.Wait()
}
