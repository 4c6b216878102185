package hal

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// Cell holds the latest sample from an interrupt-style source. One
// goroutine writes with Put, the hardware pass reads with Load; older
// samples are overwritten, never queued.
//
// seq is odd while a Put is in progress, so a reader can pair a value with
// the sequence number it was written under.
type Cell struct {
	value atomic.Int32
	seq   atomic.Uint32
	seen  uint32 // reader side only
}

// Put publishes a new sample. Only one goroutine may call Put.
func (c *Cell) Put(v int32) {
	c.seq.Add(1)
	c.value.Store(v)
	c.seq.Add(1)
}

// Load returns the latest sample and whether it is newer than the one
// returned by the previous Load.
func (c *Cell) Load() (v int32, fresh bool) {
	for {
		s := c.seq.Load()
		if s&1 != 0 {
			runtime.Gosched()
			continue
		}
		v = c.value.Load()
		if c.seq.Load() != s {
			continue
		}
		fresh = s != c.seen
		c.seen = s
		return v, fresh
	}
}

// Peek returns the latest sample without marking it seen.
func (c *Cell) Peek() int32 { return c.value.Load() }

// CellBank is an InputAdapter backed by one Cell per input id.
type CellBank struct {
	mu    sync.RWMutex
	cells map[channel.ID]*Cell
}

// NewCellBank creates an empty bank.
func NewCellBank() *CellBank {
	return &CellBank{cells: make(map[channel.ID]*Cell)}
}

// Cell returns the cell for id, creating it on first use.
func (b *CellBank) Cell(id channel.ID) *Cell {
	b.mu.RLock()
	c, ok := b.cells[id]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.cells[id]; !ok {
		c = &Cell{}
		b.cells[id] = c
	}
	return c
}

// Sample implements InputAdapter. Ids without a cell read as 0.
func (b *CellBank) Sample(id channel.ID) int32 {
	b.mu.RLock()
	c, ok := b.cells[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	v, _ := c.Load()
	return v
}
