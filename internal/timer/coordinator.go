package timer

import (
	"context"
	"sync"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/pkg/logger"
)

// Coordinator keeps one server-side Session per running record so caps are
// enforced even when no judge panel is open.
type Coordinator struct {
	src      Source
	load     Loader
	finisher Finisher
	opts     []Option
	log      logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator. Sessions live until their record is
// terminal or Close is called.
func NewCoordinator(src Source, load Loader, finisher Finisher, opts ...Option) *Coordinator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		src:      src,
		load:     load,
		finisher: finisher,
		opts:     opts,
		log:      cfg.log,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch makes sure a session follows rec while it runs. It is a no-op for
// records that are not running or already watched.
func (c *Coordinator) Watch(rec *model.ScoreRecord) error {
	if rec.Status != model.StatusRunning {
		return nil
	}
	id := rec.ID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	if _, ok := c.sessions[id]; ok {
		return nil
	}
	s, err := Open(c.ctx, c.src, c.load, c.finisher, id, c.opts...)
	if err != nil {
		return err
	}
	c.sessions[id] = s
	c.log.Debug(c.ctx, "timer session opened", logger.String("score_id", id))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-s.Done()
		c.mu.Lock()
		if c.sessions[id] == s {
			delete(c.sessions, id)
		}
		c.mu.Unlock()
		c.log.Debug(c.ctx, "timer session closed", logger.String("score_id", id))
	}()
	return nil
}

// Active returns the number of open sessions.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close ends every session.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	c.wg.Wait()
}
