package main

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ---------- helpers ----------

// startTestServer spins up an httptest.Server with a running game loop and
// returns the server, its WebSocket URL, the game, and a cleanup func.
func startTestServer(t *testing.T) (*httptest.Server, string, *Game, func()) {
	t.Helper()

	state := NewState(DefaultGrid(), rand.New(rand.NewSource(time.Now().UnixNano())), nil)
	auth := NewAuth(nil, nil)
	game := NewGame(state, auth, nil, nil)
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	go game.Run(ctx)

	cfg := Config{
		AllowedOrigins: []string{"*"},
		PublicURL:      "http://localhost:5462",
	}
	srv := httptest.NewServer(NewRouter(cfg, hub, game, auth, nil, zap.NewNop().Sugar()))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	return srv, wsURL, game, func() {
		cancel()
		srv.Close()
	}
}

// dialWS opens a WebSocket connection to the test server
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	return conn
}

// readEnvelope reads one JSON message from the WebSocket
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

// waitForMsg reads messages until one of the given type arrives
func waitForMsg(t *testing.T, conn *websocket.Conn, msgType string) Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.T == msgType {
			return env
		}
	}
	t.Fatalf("timed out waiting for %s", msgType)
	return Envelope{}
}

// sendMsg sends a typed message over the WebSocket
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// dataMap extracts the Data field as map[string]interface{}
func dataMap(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(env.Data)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	return m
}

// joinWS dials, consumes the welcome and snapshot, and returns the
// connection plus the assigned player id and reclaim token.
func joinWS(t *testing.T, wsURL string) (*websocket.Conn, string, string) {
	t.Helper()
	conn := dialWS(t, wsURL)

	welcome := readEnvelope(t, conn)
	if welcome.T != MsgWelcome {
		t.Fatalf("expected welcome, got %s", welcome.T)
	}
	d := dataMap(t, welcome)
	id := d["player"].(map[string]interface{})["id"].(string)
	token := d["token"].(string)

	snapshot := readEnvelope(t, conn)
	if snapshot.T != MsgSnapshot {
		t.Fatalf("expected state-snapshot, got %s", snapshot.T)
	}
	return conn, id, token
}

// ---------- join flow ----------

func TestJoinFlowOverWire(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1 := dialWS(t, wsURL)
	defer c1.Close()

	welcome := readEnvelope(t, c1)
	if welcome.T != MsgWelcome {
		t.Fatalf("expected welcome, got %s", welcome.T)
	}
	d := dataMap(t, welcome)
	player := d["player"].(map[string]interface{})
	if player["id"] == "" {
		t.Error("welcome should assign a player id")
	}
	if player["health"].(float64) != StartHealth {
		t.Errorf("health = %v, want %d", player["health"], StartHealth)
	}
	if player["ammo"].(float64) != StartAmmo {
		t.Errorf("ammo = %v, want %d", player["ammo"], StartAmmo)
	}
	if d["token"] == "" {
		t.Error("welcome should carry a reclaim token")
	}

	snapshot := readEnvelope(t, c1)
	if snapshot.T != MsgSnapshot {
		t.Fatalf("expected state-snapshot, got %s", snapshot.T)
	}
	if len(dataMap(t, snapshot)["players"].([]interface{})) != 1 {
		t.Error("snapshot should contain the joiner")
	}
}

func TestSecondJoinAnnounced(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1, _, _ := joinWS(t, wsURL)
	defer c1.Close()

	c2, id2, _ := joinWS(t, wsURL)
	defer c2.Close()

	joined := waitForMsg(t, c1, MsgPlayerJoined)
	if dataMap(t, joined)["id"].(string) != id2 {
		t.Error("player-joined should carry the new player's id")
	}
}

func TestDisconnectAnnounced(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1, _, _ := joinWS(t, wsURL)
	defer c1.Close()
	c2, id2, _ := joinWS(t, wsURL)
	waitForMsg(t, c1, MsgPlayerJoined)

	c2.Close()

	left := waitForMsg(t, c1, MsgPlayerLeft)
	if left.Data.(string) != id2 {
		t.Errorf("player-left = %v, want %s", left.Data, id2)
	}
}

func TestReclaimOverWire(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1, id1, token := joinWS(t, wsURL)
	c1.Close()
	time.Sleep(100 * time.Millisecond) // let the leave drain through the loop

	c2, id2, _ := joinWS(t, wsURL+"?token="+token)
	defer c2.Close()
	if id2 != id1 {
		t.Errorf("reclaimed id = %s, want %s", id2, id1)
	}
}

// ---------- gameplay ----------

func TestMoveBroadcastOverWire(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1, id1, _ := joinWS(t, wsURL)
	defer c1.Close()
	c2, _, _ := joinWS(t, wsURL)
	defer c2.Close()

	sendMsg(t, c1, MsgMove, MoveMsg{X: 3.5, Y: 1.5, Angle: 0.5})

	moved := waitForMsg(t, c2, MsgPlayerMoved)
	d := dataMap(t, moved)
	if d["id"].(string) != id1 {
		t.Errorf("moved id = %v, want %s", d["id"], id1)
	}
	if d["x"].(float64) != 3.5 || d["y"].(float64) != 1.5 {
		t.Errorf("moved to (%v, %v), want (3.5, 1.5)", d["x"], d["y"])
	}
}

func TestMoveNotEchoedToMover(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1, _, _ := joinWS(t, wsURL)
	defer c1.Close()

	sendMsg(t, c1, MsgMove, MoveMsg{X: 3.5, Y: 1.5})

	c1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := c1.ReadMessage(); err == nil {
		t.Error("mover should not receive its own player-moved")
	}
}

func TestShootOverWire(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1, id1, _ := joinWS(t, wsURL)
	defer c1.Close()
	c2, id2, _ := joinWS(t, wsURL)
	defer c2.Close()

	// Line the players up along the open top corridor
	sendMsg(t, c1, MsgMove, MoveMsg{X: 2.5, Y: 1.5, Angle: 0})
	sendMsg(t, c2, MsgMove, MoveMsg{X: 5.5, Y: 1.5, Angle: 0})
	waitForMsg(t, c1, MsgPlayerMoved)

	sendMsg(t, c1, MsgShoot, ShootMsg{Angle: 0})

	hit := waitForMsg(t, c2, MsgPlayerHit)
	d := dataMap(t, hit)
	if d["shooterId"].(string) != id1 || d["targetId"].(string) != id2 {
		t.Errorf("unexpected hit payload: %v", d)
	}
	if d["damage"].(float64) != ShootDamage {
		t.Errorf("damage = %v, want %d", d["damage"], ShootDamage)
	}
	if d["newHealth"].(float64) != StartHealth-ShootDamage {
		t.Errorf("newHealth = %v, want %d", d["newHealth"], StartHealth-ShootDamage)
	}

	shot := waitForMsg(t, c2, MsgPlayerShot)
	if dataMap(t, shot)["ammo"].(float64) != StartAmmo-1 {
		t.Error("player-shot should carry the decremented ammo")
	}
}

func TestBinaryKeyframeOverWire(t *testing.T) {
	_, wsURL, game, cleanup := startTestServer(t)
	defer cleanup()

	conn, _, _ := joinWS(t, wsURL+"?bin=1")
	defer conn.Close()

	game.Dispatch(command{kind: cmdKeyframeTick, now: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read keyframe: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected a binary frame, got type %d", msgType)
	}
	var frame Keyframe
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("keyframe should be valid msgpack: %v", err)
	}
	if len(frame.Players) != 1 {
		t.Errorf("keyframe players = %d, want 1", len(frame.Players))
	}
}

// ---------- HTTP endpoints ----------

func TestHealthEndpoint(t *testing.T) {
	srv, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1, _, _ := joinWS(t, wsURL)
	defer c1.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.Players != 1 {
		t.Errorf("players = %d, want 1", health.Players)
	}
}

func TestLeaderboardEmptyWithoutDB(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/api/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty array, got %s", body)
	}
}

func TestQREndpoint(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/qr")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /qr status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	png, _ := io.ReadAll(resp.Body)
	if len(png) == 0 {
		t.Error("QR endpoint returned an empty body")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", resp.StatusCode)
	}
}

// ---------- origin policy ----------

func TestOriginRejected(t *testing.T) {
	state := NewState(DefaultGrid(), rand.New(rand.NewSource(1)), nil)
	auth := NewAuth(nil, nil)
	game := NewGame(state, auth, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go game.Run(ctx)

	cfg := Config{AllowedOrigins: []string{"http://localhost:3000"}}
	srv := httptest.NewServer(NewRouter(cfg, NewHub(), game, auth, nil, zap.NewNop().Sugar()))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatal("disallowed origin should fail the handshake")
	}

	// The allowed origin connects fine
	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("allowed origin should connect: %v", err)
	}
	conn.Close()
}

func TestOriginAllowedPatterns(t *testing.T) {
	mkReq := func(origin string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://server.example/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}
	allowed := []string{"http://localhost:*", "https://game.example"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true}, // non-browser client
		{"http://server.example", true},
		{"http://localhost:3000", true},
		{"http://localhost:9999", true},
		{"https://game.example", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		if got := originAllowed(mkReq(tt.origin), allowed); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
