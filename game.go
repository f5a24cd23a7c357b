package main

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Scope selects which clients receive an outbound event
type Scope int

const (
	ScopeAll    Scope = iota // every connected client
	ScopeOthers              // everyone except PlayerID
	ScopeOne                 // only PlayerID
)

// Outbound is one event produced by a state transition, with its
// broadcast policy
type Outbound struct {
	Scope    Scope
	PlayerID string
	Env      Envelope
}

// Sender is the transport-side handle the game loop delivers through
type Sender interface {
	SendRaw(data []byte)
	SendBinary(data []byte)
	Keyframes() bool
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdMessage
	cmdSetAccount
	cmdSpawnTick
	cmdExpireTick
	cmdReapTick
	cmdKeyframeTick
	cmdRemovePickup
)

// command is the tagged unit of work the event loop processes. Exactly one
// command is handled at a time, so store mutations never interleave.
type command struct {
	kind      cmdKind
	playerID  string
	token     string
	sender    Sender
	env       InEnvelope
	accountID int64
	pickupID  string
	now       time.Time
	joined    chan *Player // join reply: assigned player state
}

const commandBufSize = 256

// Game owns the entity state store and processes all simulation commands
// on a single goroutine. Transport code never touches the store directly;
// it posts commands and delivers the resulting events.
type Game struct {
	state    *State
	auth     *Auth
	stats    *Stats
	log      *zap.SugaredLogger
	commands chan command
	senders  map[string]Sender // playerID -> transport, loop-owned

	// connected mirrors the store's connected-player count for read-only
	// consumers (/health) that must not touch the store off-loop
	connected atomic.Int64
}

// PlayerCount returns the connected-player count without entering the loop
func (g *Game) PlayerCount() int {
	return int(g.connected.Load())
}

func (g *Game) syncPlayerCount() {
	n := g.state.ConnectedCount()
	g.connected.Store(int64(n))
	metricPlayersGauge.Set(float64(n))
}

// NewGame creates a game over the given store. auth and stats may be nil
// (guest-only operation, no persistence).
func NewGame(state *State, auth *Auth, stats *Stats, log *zap.SugaredLogger) *Game {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Game{
		state:    state,
		auth:     auth,
		stats:    stats,
		log:      log,
		commands: make(chan command, commandBufSize),
		senders:  make(map[string]Sender),
	}
}

// Run drains the command channel until ctx is cancelled
func (g *Game) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-g.commands:
			g.deliver(g.handle(cmd))
		}
	}
}

// Dispatch posts a command to the loop
func (g *Game) Dispatch(cmd command) {
	g.commands <- cmd
}

// Join registers a connection, creating or reclaiming a player, and
// returns the authoritative player state once the loop has processed it.
func (g *Game) Join(token string, sender Sender) *Player {
	reply := make(chan *Player, 1)
	g.Dispatch(command{kind: cmdJoin, token: token, sender: sender, joined: reply})
	return <-reply
}

// Leave removes the connection's player. sender guards against a stale
// disconnect racing a reconnect that already replaced the transport.
func (g *Game) Leave(playerID string, sender Sender) {
	g.Dispatch(command{kind: cmdLeave, playerID: playerID, sender: sender})
}

// Message posts a decoded client envelope for processing
func (g *Game) Message(playerID string, env InEnvelope) {
	g.Dispatch(command{kind: cmdMessage, playerID: playerID, env: env})
}

// handle applies one command to the store and returns the events it
// produced. It is called only from Run, but tests call it directly to
// exercise the rules engine without a transport.
func (g *Game) handle(cmd command) []Outbound {
	switch cmd.kind {
	case cmdJoin:
		return g.handleJoin(cmd)
	case cmdLeave:
		return g.handleLeave(cmd)
	case cmdMessage:
		return g.handleMessage(cmd)
	case cmdSetAccount:
		if p := g.state.Player(cmd.playerID); p != nil {
			p.AccountID = cmd.accountID
		}
		return nil
	case cmdSpawnTick:
		return g.spawnPickups(cmd.now)
	case cmdExpireTick:
		return g.expirePickups(cmd.now)
	case cmdReapTick:
		g.reapDisconnected()
		return nil
	case cmdKeyframeTick:
		g.sendKeyframes(cmd.now)
		return nil
	case cmdRemovePickup:
		g.state.RemovePickup(cmd.pickupID)
		return nil
	}
	return nil
}

// handleJoin creates or reactivates the player, replies with the welcome
// and snapshot for the joining client, and announces the arrival to
// everyone else. A malformed or missing reclaim token means a fresh
// player — identity fails open.
func (g *Game) handleJoin(cmd command) []Outbound {
	var claimID string
	if g.auth != nil && cmd.token != "" {
		claimID = g.auth.PlayerIDFromToken(cmd.token)
	}

	p, reclaimed := g.state.UpsertPlayer(claimID)
	g.senders[p.ID] = cmd.sender

	var token string
	if g.auth != nil {
		token, _ = g.auth.IssueReclaimToken(p.ID)
	}

	if cmd.joined != nil {
		cmd.joined <- p
	}
	g.syncPlayerCount()
	g.log.Infow("player joined", "id", p.ID, "reclaimed", reclaimed)

	return []Outbound{
		{Scope: ScopeOne, PlayerID: p.ID, Env: Envelope{T: MsgWelcome, Data: WelcomeMsg{Player: p.Clone(), Token: token}}},
		{Scope: ScopeOne, PlayerID: p.ID, Env: Envelope{T: MsgSnapshot, Data: g.state.Snapshot()}},
		{Scope: ScopeOthers, PlayerID: p.ID, Env: Envelope{T: MsgPlayerJoined, Data: p.Clone()}},
	}
}

// handleLeave removes the player immediately on disconnect. Disconnects
// are normal flow, not errors.
func (g *Game) handleLeave(cmd command) []Outbound {
	if cmd.sender != nil && g.senders[cmd.playerID] != cmd.sender {
		// A reconnect already replaced this transport; nothing to remove.
		return nil
	}
	if g.state.Player(cmd.playerID) == nil {
		return nil
	}
	delete(g.senders, cmd.playerID)
	g.state.RemovePlayer(cmd.playerID)
	g.syncPlayerCount()
	g.log.Infow("player left", "id", cmd.playerID)

	return []Outbound{{Scope: ScopeOthers, PlayerID: cmd.playerID, Env: Envelope{T: MsgPlayerLeft, Data: cmd.playerID}}}
}

// handleMessage routes one decoded client envelope into the rules engine
func (g *Game) handleMessage(cmd command) []Outbound {
	metricMessagesTotal.Inc()
	switch cmd.env.T {
	case MsgMove:
		var msg MoveMsg
		if err := json.Unmarshal(cmd.env.D, &msg); err != nil {
			return nil
		}
		return g.tryMove(cmd.playerID, msg)
	case MsgShoot:
		var msg ShootMsg
		if err := json.Unmarshal(cmd.env.D, &msg); err != nil {
			return nil
		}
		start := time.Now()
		events := g.resolveShot(cmd.playerID, msg)
		metricShotDuration.Observe(time.Since(start).Seconds())
		return events
	case MsgRespawn:
		return g.respawnPlayer(cmd.playerID)
	}
	return nil
}

// spawnPickups tops the active pickup count up toward the target band.
// Nothing spawns in an empty arena.
func (g *Game) spawnPickups(now time.Time) []Outbound {
	target := PickupTargetCount(g.state.ConnectedCount())
	var events []Outbound
	for g.state.ActivePickupCount() < target {
		pickup := NewPickup(g.state.Grid(), g.state.rng, now)
		g.state.AddPickup(pickup)
		metricPickupsSpawned.Inc()
		events = append(events, Outbound{Scope: ScopeAll, Env: Envelope{T: MsgPickupSpawned, Data: *pickup}})
	}
	return events
}

// expirePickups removes pickups past their TTL and sweeps collected ones
// whose removal grace has elapsed (backup for the scheduled removal).
func (g *Game) expirePickups(now time.Time) []Outbound {
	var events []Outbound
	for _, p := range g.state.AllPickups() {
		switch {
		case p.Collected && p.RemovalDue(now):
			g.state.RemovePickup(p.ID)
		case !p.Collected && p.Expired(now):
			g.state.RemovePickup(p.ID)
			metricPickupsExpired.Inc()
			events = append(events, Outbound{Scope: ScopeAll, Env: Envelope{T: MsgPickupExpired, Data: p.ID}})
		}
	}
	return events
}

// reapDisconnected purges players left in a disconnected state. With
// immediate removal on disconnect this is a safety net against missed
// cleanup, not the primary path.
func (g *Game) reapDisconnected() {
	for id, p := range g.state.players {
		if !p.Connected {
			g.state.RemovePlayer(id)
			g.log.Warnw("reaped stale player", "id", id)
		}
	}
	g.syncPlayerCount()
}

// sendKeyframes pushes a msgpack full-state frame to clients that opted in
func (g *Game) sendKeyframes(now time.Time) {
	var any bool
	for _, s := range g.senders {
		if s.Keyframes() {
			any = true
			break
		}
	}
	if !any {
		return
	}

	snap := g.state.Snapshot()
	frame, err := msgpack.Marshal(Keyframe{
		Players:    snap.Players,
		Pickups:    snap.Pickups,
		ServerTime: now.UnixMilli(),
	})
	if err != nil {
		g.log.Errorw("keyframe marshal", "err", err)
		return
	}
	for _, s := range g.senders {
		if s.Keyframes() {
			s.SendBinary(frame)
		}
	}
}

// deliver marshals each event once and fans it out per its scope. A
// collected pickup additionally gets its store removal scheduled here,
// after the announcing event is on the wire.
func (g *Game) deliver(events []Outbound) {
	for _, ev := range events {
		data, err := json.Marshal(ev.Env)
		if err != nil {
			g.log.Errorw("marshal outbound", "type", ev.Env.T, "err", err)
			continue
		}

		switch ev.Scope {
		case ScopeAll:
			for _, s := range g.senders {
				s.SendRaw(data)
			}
		case ScopeOthers:
			for id, s := range g.senders {
				if id != ev.PlayerID {
					s.SendRaw(data)
				}
			}
		case ScopeOne:
			if s, ok := g.senders[ev.PlayerID]; ok {
				s.SendRaw(data)
			}
		}

		if ev.Env.T == MsgPickupCollected {
			if msg, ok := ev.Env.Data.(CollectedMsg); ok {
				g.scheduleRemoval(msg.PickupID)
			}
		}
	}
}

// scheduleRemoval posts the pickup's store removal after the grace period
func (g *Game) scheduleRemoval(pickupID string) {
	time.AfterFunc(PickupRemovalGrace, func() {
		g.Dispatch(command{kind: cmdRemovePickup, pickupID: pickupID})
	})
}
