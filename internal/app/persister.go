package app

import (
	"context"
	"sync"

	"fitledger/internal/domain"
)

// persister hands committed ledgers to the stores on a background goroutine,
// in the order they were enqueued. A newer commit of the same day replaces
// one that is still waiting, since each ledger is a full snapshot.
type persister struct {
	save func(context.Context, *domain.Ledger)

	mu      sync.Mutex
	idle    *sync.Cond
	queue   []*domain.Ledger
	running bool
}

func newPersister(save func(context.Context, *domain.Ledger)) *persister {
	p := &persister{save: save}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// enqueue never blocks on I/O. Callers that need commit order must call it
// while holding the lock that orders their commits.
func (p *persister) enqueue(l *domain.Ledger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.queue); n > 0 && p.queue[n-1].Date == l.Date {
		p.queue[n-1] = l
	} else {
		p.queue = append(p.queue, l)
	}
	if !p.running {
		p.running = true
		go p.run()
	}
}

func (p *persister) run() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running = false
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		l := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.save(context.Background(), l)
	}
}

// flush blocks until everything enqueued so far has been written.
func (p *persister) flush() {
	p.mu.Lock()
	for p.running {
		p.idle.Wait()
	}
	p.mu.Unlock()
}
