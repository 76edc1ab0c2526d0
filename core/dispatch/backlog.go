package dispatch

import (
	"sync"

	"github.com/fieldops/rove/core/model"
)

// backlog is the FIFO deque of mystery points awaiting an opportunistic
// retry. Visit tasks push failed unknown-deadline assignments back while the
// scheduling loop pops from the front, so access is synchronized.
type backlog struct {
	mu     sync.Mutex
	points []model.Point
}

func (b *backlog) push(p model.Point) {
	b.mu.Lock()
	b.points = append(b.points, p)
	b.mu.Unlock()
}

func (b *backlog) pop() (model.Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.points) == 0 {
		return model.Point{}, false
	}
	p := b.points[0]
	b.points = b.points[1:]
	return p, true
}

func (b *backlog) fill(points []model.Point) {
	b.mu.Lock()
	b.points = append(b.points, points...)
	b.mu.Unlock()
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}
