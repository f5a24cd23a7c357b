package main

import "time"

const (
	StartHealth      = 100
	StartAmmo        = 50
	AmmoCap          = 100
	ShootDamage      = 50
	ShootDistance    = 10.0
	ShootCone        = 0.5235987755982988 // pi/6: 30 degree half-angle
	HitBounty        = 100
	RespawnAmmoFloor = 25
)

// Player spawn region: x,y in [2, 8). Every cell in that band of the
// default map is open, so it doubles as the rejection-sampling fallback.
var playerSpawnRegion = SampleRegion{MinX: 2, SpanX: 6, MinY: 2, SpanY: 6}

// Player is the authoritative server-side state for one connection.
// Clients hold a read-only mirror of everyone else and an optimistic
// local copy of themselves. JSON field names are the wire contract.
type Player struct {
	ID         string  `json:"id" msgpack:"id"`
	X          float64 `json:"x" msgpack:"x"`
	Y          float64 `json:"y" msgpack:"y"`
	Angle      float64 `json:"angle" msgpack:"angle"`
	Health     int     `json:"health" msgpack:"health"`
	Ammo       int     `json:"ammo" msgpack:"ammo"`
	Score      int     `json:"score" msgpack:"score"`
	Connected  bool    `json:"connected" msgpack:"connected"`
	LastUpdate int64   `json:"lastUpdate" msgpack:"lastUpdate"` // unix millis

	// AccountID links the player to a registered account for persistent
	// stats. Zero for guests. Not part of the wire state.
	AccountID int64 `json:"-" msgpack:"-"`
}

// NewPlayer creates a player at the given spawn point with start resources
func NewPlayer(id string, x, y float64, now time.Time) *Player {
	return &Player{
		ID:         id,
		X:          x,
		Y:          y,
		Angle:      0,
		Health:     StartHealth,
		Ammo:       StartAmmo,
		Score:      0,
		Connected:  true,
		LastUpdate: now.UnixMilli(),
	}
}

// Dead reports whether the player is in the dead sub-state pending respawn
func (p *Player) Dead() bool {
	return p.Health <= 0
}

// Clone returns a copy safe to hand outside the game loop
func (p *Player) Clone() Player {
	return *p
}
