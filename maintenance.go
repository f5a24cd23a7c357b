package main

import (
	"context"
	"time"
)

const (
	SpawnInterval    = 15 * time.Second
	ExpireInterval   = 60 * time.Second
	ReapInterval     = 30 * time.Second
	KeyframeInterval = 5 * time.Second
)

// Maintenance owns the periodic housekeeping timers: pickup spawn top-up,
// pickup expiry, stale-player reaping, and binary keyframes. Each tick is
// just a command posted into the game loop — maintenance never touches
// the store itself. The tasks start with the server and stop with ctx,
// not as free-floating timers.
type Maintenance struct {
	game *Game
	now  func() time.Time

	spawnEvery    time.Duration
	expireEvery   time.Duration
	reapEvery     time.Duration
	keyframeEvery time.Duration
}

// NewMaintenance creates the maintenance tasks with reference intervals.
// now is injectable for tests.
func NewMaintenance(game *Game, now func() time.Time) *Maintenance {
	if now == nil {
		now = time.Now
	}
	return &Maintenance{
		game:          game,
		now:           now,
		spawnEvery:    SpawnInterval,
		expireEvery:   ExpireInterval,
		reapEvery:     ReapInterval,
		keyframeEvery: KeyframeInterval,
	}
}

// Run drives all timers until ctx is cancelled
func (m *Maintenance) Run(ctx context.Context) error {
	spawn := time.NewTicker(m.spawnEvery)
	expire := time.NewTicker(m.expireEvery)
	reap := time.NewTicker(m.reapEvery)
	keyframe := time.NewTicker(m.keyframeEvery)
	defer spawn.Stop()
	defer expire.Stop()
	defer reap.Stop()
	defer keyframe.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-spawn.C:
			m.game.Dispatch(command{kind: cmdSpawnTick, now: m.now()})
		case <-expire.C:
			m.game.Dispatch(command{kind: cmdExpireTick, now: m.now()})
		case <-reap.C:
			m.game.Dispatch(command{kind: cmdReapTick, now: m.now()})
		case <-keyframe.C:
			m.game.Dispatch(command{kind: cmdKeyframeTick, now: m.now()})
		}
	}
}
