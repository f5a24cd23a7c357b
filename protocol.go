package main

import "encoding/json"

// Client -> Server message types
const (
	MsgMove         = "move"
	MsgShoot        = "shoot"
	MsgRespawn      = "respawn"
	MsgRegister     = "register"
	MsgLogin        = "login"
	MsgAuthenticate = "authenticate"
)

// Server -> Client message types
const (
	MsgWelcome         = "welcome"
	MsgSnapshot        = "state-snapshot"
	MsgPlayerJoined    = "player-joined"
	MsgPlayerLeft      = "player-left"
	MsgPlayerMoved     = "player-moved"
	MsgPlayerShot      = "player-shot"
	MsgPlayerHit       = "player-hit"
	MsgPlayerDied      = "player-died"
	MsgPlayerRespawned = "player-respawned"
	MsgPickupSpawned   = "pickup-spawned"
	MsgPickupCollected = "pickup-collected"
	MsgPickupExpired   = "pickup-expired"
	MsgAuthOK          = "auth-ok"
	MsgError           = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages — json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// MoveMsg is the client's proposed pose. The server validates it against
// the map; rejected proposals are dropped silently.
type MoveMsg struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// ShootMsg is a fire intent at the given world angle
type ShootMsg struct {
	Angle float64 `json:"angle"`
}

// WelcomeMsg carries the new player's own authoritative state and a signed
// reclaim token for reconnecting with the same identity
type WelcomeMsg struct {
	Player Player `json:"player"`
	Token  string `json:"token"`
}

// SnapshotMsg bootstraps a newly joined client with the full live state
type SnapshotMsg struct {
	Players []Player `json:"players"`
	Pickups []Pickup `json:"pickups"`
}

// MovedMsg is broadcast to everyone but the mover after an accepted move
type MovedMsg struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// ShotMsg is broadcast to others after any valid fire attempt, hit or
// miss, so remote clients can render muzzle flashes
type ShotMsg struct {
	PlayerID string `json:"playerId"`
	Ammo     int    `json:"ammo"`
}

// HitMsg is broadcast to all when a shot connects
type HitMsg struct {
	ShooterID string `json:"shooterId"`
	TargetID  string `json:"targetId"`
	Damage    int    `json:"damage"`
	NewHealth int    `json:"newHealth"`
}

// DiedMsg is broadcast to all when health reaches zero
type DiedMsg struct {
	PlayerID string `json:"playerId"`
	KillerID string `json:"killerId"`
}

// CollectedMsg is broadcast to all when a player grabs a pickup
type CollectedMsg struct {
	PickupID string `json:"pickupId"`
	PlayerID string `json:"playerId"`
	NewAmmo  int    `json:"newAmmo"`
}

// RegisterMsg creates a persistent account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates against an existing account
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthenticateMsg attaches a previously issued account token
type AuthenticateMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms account authentication
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// ErrorMsg is sent only for request/response operations (account auth);
// simulation rejections are silent by design
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// Keyframe is the optional msgpack-encoded full state sent as a binary
// frame to clients that opted in with ?bin=1. It repairs drift without
// touching the JSON delta contract.
type Keyframe struct {
	Players    []Player `msgpack:"players"`
	Pickups    []Pickup `msgpack:"pickups"`
	ServerTime int64    `msgpack:"serverTime"`
}
