package board

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry holds the live boards of a process, keyed by session id, and
// closes the ones left idle for longer than its ttl.
type Registry struct {
	mu     sync.Mutex
	boards map[string]*entry
	mount  func() *Board
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

type entry struct {
	board    *Board
	lastSeen time.Time
}

func NewRegistry(mount func() *Board, ttl time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		boards: make(map[string]*entry),
		mount:  mount,
		ttl:    ttl,
		now:    time.Now,
		log:    log,
	}
}

// Create mounts a new board under a fresh id.
func (r *Registry) Create() (string, *Board) {
	id := uuid.NewString()
	return id, r.Acquire(id)
}

// Acquire returns the board for id, mounting one if needed.
func (r *Registry) Acquire(id string) *Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.boards[id]; ok {
		e.lastSeen = r.now()
		return e.board
	}
	b := r.mount()
	r.boards[id] = &entry{board: b, lastSeen: r.now()}
	r.log.Debug().Str("board", id).Msg("mount board")
	return b
}

func (r *Registry) Get(id string) (*Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.boards[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.board, true
}

// Remove unmounts the board. It reports whether id was known.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.boards[id]
	delete(r.boards, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	_ = e.board.Close()
	r.log.Debug().Str("board", id).Msg("unmount board")
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boards)
}

// Evict unmounts boards idle for longer than the ttl and returns how many.
func (r *Registry) Evict() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var idle []*Board
	for id, e := range r.boards {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.board)
			delete(r.boards, id)
		}
	}
	r.mu.Unlock()

	for _, b := range idle {
		_ = b.Close()
	}
	if len(idle) > 0 {
		r.log.Info().Int("count", len(idle)).Msg("evicted idle boards")
	}
	return len(idle)
}

// Run evicts idle boards every interval until ctx ends, then closes all.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-t.C:
			r.Evict()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	boards := r.boards
	r.boards = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range boards {
		_ = e.board.Close()
	}
}
