package attention

import "sync"

// barrier is a cyclic counting barrier. Every unit of a group must
// arrive before any unit proceeds, and the barrier is immediately
// reusable for the next phase. Generations distinguish consecutive
// phases so a fast unit cannot lap a slow one.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// wait blocks until all parties have called wait for the current
// generation.
func (b *barrier) wait() {
	b.mu.Lock()
	gen := b.generation
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.generation {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// runGroup launches width cooperating units and blocks until all of
// them return. Each unit receives its index and a rendezvous function
// that blocks until every unit of the group has called it.
//
// Units that have no work in a boundary tile must still call the
// rendezvous at every phase, otherwise the group deadlocks.
func runGroup(width int, body func(unit int, rendezvous func())) {
	bar := newBarrier(width)

	var wg sync.WaitGroup
	wg.Add(width)
	for u := 0; u < width; u++ {
		go func(unit int) {
			defer wg.Done()
			body(unit, bar.wait)
		}(u)
	}
	wg.Wait()
}
