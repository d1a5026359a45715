package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmeshcher/race-economy/internal/clock"
)

// Cache держит последний снимок справочника не дольше ttl.
// Если перезагрузка не удалась, продолжает отдавать предыдущий снимок.
type Cache struct {
	src   Source
	clock clock.Clock
	ttl   time.Duration

	mu       sync.Mutex
	snap     *Snapshot
	loadedAt time.Time
	onLoad   []func(*Snapshot)
}

// NewCache создаёт кэш поверх источника.
func NewCache(src Source, c clock.Clock, ttl time.Duration) *Cache {
	return &Cache{src: src, clock: c, ttl: ttl}
}

// Snapshot возвращает актуальный снимок, перезагружая его по истечении ttl.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.snap != nil && (c.ttl <= 0 || now.Sub(c.loadedAt) < c.ttl) {
		return c.snap, nil
	}

	snap, err := c.src.Load(ctx)
	if err != nil {
		if c.snap != nil {
			return c.snap, nil
		}
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	c.snap = snap
	c.loadedAt = now
	for _, fn := range c.onLoad {
		fn(snap)
	}
	return snap, nil
}

// Invalidate сбрасывает снимок; следующий вызов Snapshot перечитает источник.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// OnLoad регистрирует обработчик, вызываемый после каждой загрузки снимка.
func (c *Cache) OnLoad(fn func(*Snapshot)) {
	c.mu.Lock()
	c.onLoad = append(c.onLoad, fn)
	c.mu.Unlock()
}
