package main

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

const (
	PickupAmmoAmount   = 25
	PickupRadius       = 0.8
	PickupTTL          = 2 * time.Minute
	PickupRemovalGrace = 100 * time.Millisecond
	PickupTargetMin    = 3
	PickupTargetMax    = 5
)

// Pickup spawn region covers the playable interior: x in [1, 15), y in [1, 11)
var pickupSpawnRegion = SampleRegion{MinX: 1, SpanX: 14, MinY: 1, SpanY: 10}

// Pickup is a server-owned ammo drop. Once Collected flips true the pickup
// is never collectible again; it lingers briefly so in-flight broadcasts
// that reference it stay resolvable, then the store drops it.
type Pickup struct {
	ID         string  `json:"id" msgpack:"id"`
	X          float64 `json:"x" msgpack:"x"`
	Y          float64 `json:"y" msgpack:"y"`
	AmmoAmount int     `json:"ammoAmount" msgpack:"ammoAmount"`
	SpawnTime  int64   `json:"spawnTime" msgpack:"spawnTime"` // unix millis
	Collected  bool    `json:"collected" msgpack:"collected"`

	collectedAt time.Time // set when Collected flips, drives grace removal
}

// NewPickup spawns a pickup on a rejection-sampled open cell
func NewPickup(g *Grid, rng *rand.Rand, now time.Time) *Pickup {
	x, y := g.RandomOpenPoint(rng, pickupSpawnRegion, playerSpawnRegion, SpawnSampleAttempts)
	return &Pickup{
		ID:         "ammo_" + uuid.NewString(),
		X:          x,
		Y:          y,
		AmmoAmount: PickupAmmoAmount,
		SpawnTime:  now.UnixMilli(),
	}
}

// Expired reports whether the pickup has outlived its TTL
func (p *Pickup) Expired(now time.Time) bool {
	return now.UnixMilli()-p.SpawnTime > PickupTTL.Milliseconds()
}

// RemovalDue reports whether a collected pickup's grace period has passed
func (p *Pickup) RemovalDue(now time.Time) bool {
	return p.Collected && now.Sub(p.collectedAt) >= PickupRemovalGrace
}

// PickupTargetCount returns how many active pickups the spawner maintains
// for the given connected-player count: a 3..5 band scaling with players.
func PickupTargetCount(connectedPlayers int) int {
	if connectedPlayers <= 0 {
		return 0
	}
	return ClampInt(connectedPlayers, PickupTargetMin, PickupTargetMax)
}
