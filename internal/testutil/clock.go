package testutil

import (
	"fmt"
	"sync"
	"time"

	"adhoc-backup/internal/backup"
)

// sessionEpoch names sessions "backup_20240115_103000".
var sessionEpoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a backup.Clock under test control. Every call to Now returns
// the current reading and then moves it forward by the step, which is zero
// for a frozen clock. Safe for concurrent use.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

var _ backup.Clock = (*StubClock)(nil)

// NewStubClock returns a clock frozen at t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a clock frozen at the session epoch.
func FixedClock() *StubClock {
	return NewStubClock(sessionEpoch)
}

// SteppingClock starts at the session epoch and advances by step after every
// reading, so consecutive timestamps of one run are distinct.
func SteppingClock(step time.Duration) *StubClock {
	return &StubClock{now: sessionEpoch, step: step}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// StubIDGenerator hands out the preset IDs first, then "id-1", "id-2" and so on.
type StubIDGenerator struct {
	mu     sync.Mutex
	preset []string
	n      int
}

var _ backup.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator(preset ...string) *StubIDGenerator {
	return &StubIDGenerator{preset: preset}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.preset) > 0 {
		id := g.preset[0]
		g.preset = g.preset[1:]
		return id
	}
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}
