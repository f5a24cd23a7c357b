package main

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256

	// Per-connection message budget. The client only sends a move when
	// its pose drifts past the epsilon threshold, so sustained traffic
	// well above a render loop's rate is abuse, not gameplay.
	msgRatePerSec = 80
	msgRateBurst  = 120
)

// Client is one WebSocket connection. It feeds decoded envelopes into the
// game loop and implements Sender for the loop's outbound fan-out.
type Client struct {
	hub        *Hub
	game       *Game
	auth       *Auth
	log        *zap.SugaredLogger
	conn       *websocket.Conn
	send       chan []byte
	limiter    *rate.Limiter
	playerID   string
	remoteAddr string
	binary     bool // opted into msgpack keyframes

	accountID int64
	username  string
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, game *Game, auth *Auth, log *zap.SugaredLogger, conn *websocket.Conn, remoteAddr string, binary bool) *Client {
	return &Client{
		hub:        hub,
		game:       game,
		auth:       auth,
		log:        log,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		limiter:    rate.NewLimiter(msgRatePerSec, msgRateBurst),
		remoteAddr: remoteAddr,
		binary:     binary,
	}
}

// Keyframes reports whether this client wants binary state keyframes
func (c *Client) Keyframes() bool { return c.binary }

// ReadPump reads messages from the WebSocket connection until it drops,
// then removes the player. Disconnect is the normal removal trigger.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.Unregister(c)
		c.game.Leave(c.playerID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("ws read", "addr", c.remoteAddr, "err", err)
			}
			break
		}
		if !c.limiter.Allow() {
			// Over budget: drop the message, keep the connection
			continue
		}
		c.handleMessage(message)
	}
}

// WritePump writes queued messages and pings until the connection drops
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 0xFF prefix marks binary frames queued by SendBinary
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON marshals and queues a message for this client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorw("marshal", "err", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-marshaled bytes as a text message. A slow client's
// full buffer drops the message rather than stalling the game loop.
func (c *Client) SendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// SendBinary queues bytes as a binary WebSocket frame
func (c *Client) SendBinary(data []byte) {
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// handleMessage decodes one inbound envelope. Account operations resolve
// here on the connection goroutine (bcrypt is far too slow for the game
// loop); simulation intents are posted to the loop.
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Debugw("unmarshal", "addr", c.remoteAddr, "err", err)
		return
	}

	switch env.T {
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuthenticate:
		c.handleAuthenticate(env.D)
	case MsgMove, MsgShoot, MsgRespawn:
		c.game.Message(c.playerID, env)
	}
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.auth == nil {
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.attachAccount(id, msg.Username, token)
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.auth == nil {
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.attachAccount(id, msg.Username, token)
}

func (c *Client) handleAuthenticate(data json.RawMessage) {
	if c.auth == nil {
		return
	}
	var msg AuthenticateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.auth.ValidateAccountToken(msg.Token)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "invalid token"}})
		return
	}
	c.attachAccount(id, username, msg.Token)
}

func (c *Client) attachAccount(id int64, username, token string) {
	c.accountID = id
	c.username = username
	c.game.Dispatch(command{kind: cmdSetAccount, playerID: c.playerID, accountID: id})
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{Token: token, Username: username}})
}
