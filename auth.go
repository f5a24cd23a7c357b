package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	reclaimTokenExpiry = 24 * time.Hour
	accountTokenExpiry = 7 * 24 * time.Hour
	bcryptCost         = 12
	minPasswordLen     = 4
	minUsernameLen     = 2
	maxUsernameLen     = 16
	loginRateWindow    = 60 * time.Second
	maxLoginAttempts   = 10
)

// Auth issues and validates two kinds of HS256 tokens: short reclaim
// tokens that let a dropped connection reclaim its in-game player id, and
// longer-lived account tokens for registered players. The signing secret
// persists in the database so tokens survive restarts.
type Auth struct {
	db     *DB
	log    *zap.SugaredLogger
	secret []byte

	// Login attempt limiting per remote IP
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates an Auth handler. db may be nil: reclaim tokens still
// work with an ephemeral secret, account operations are disabled.
func NewAuth(db *DB, log *zap.SugaredLogger) *Auth {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Auth{
		db:      db,
		log:     log,
		secret:  loadOrCreateSecret(db, log),
		rateMap: make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB, log *zap.SugaredLogger) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Warnw("could not persist JWT secret", "err", err)
		}
	}
	return secret
}

// IssueReclaimToken signs a token binding the in-game player id
func (a *Auth) IssueReclaimToken(playerID string) (string, error) {
	claims := jwt.MapClaims{
		"pid": playerID,
		"exp": time.Now().Add(reclaimTokenExpiry).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// PlayerIDFromToken extracts the player id from a reclaim token. Any
// parse or validation failure returns "" — a malformed identity means a
// fresh player, never an error.
func (a *Auth) PlayerIDFromToken(tokenStr string) string {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	pid, _ := claims["pid"].(string)
	return pid
}

// Register creates a new account and returns its id and session token
func (a *Auth) Register(username, password string) (int64, string, error) {
	if a.db == nil {
		return 0, "", fmt.Errorf("accounts unavailable")
	}
	username = strings.TrimSpace(username)

	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return 0, "", fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return 0, "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	exists, err := a.db.UsernameExists(username)
	if err != nil {
		return 0, "", fmt.Errorf("database error")
	}
	if exists {
		return 0, "", fmt.Errorf("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}

	id, err := a.db.CreateAccount(username, string(hash))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create account")
	}

	token, err := a.issueAccountToken(id, username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return id, token, nil
}

// Login authenticates an existing account. remoteAddr feeds the
// per-IP attempt limiter.
func (a *Auth) Login(username, password, remoteAddr string) (int64, string, error) {
	if a.db == nil {
		return 0, "", fmt.Errorf("accounts unavailable")
	}
	if !a.allowLoginAttempt(remoteAddr) {
		return 0, "", fmt.Errorf("too many login attempts, try again later")
	}

	username = strings.TrimSpace(username)
	acct, err := a.db.AccountByUsername(username)
	if err != nil || acct == nil {
		return 0, "", fmt.Errorf("invalid username or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PassHash), []byte(password)) != nil {
		return 0, "", fmt.Errorf("invalid username or password")
	}

	token, err := a.issueAccountToken(acct.ID, acct.Username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return acct.ID, token, nil
}

// ValidateAccountToken checks an account session token and returns the
// account id and username
func (a *Auth) ValidateAccountToken(tokenStr string) (int64, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", fmt.Errorf("invalid token")
	}
	sub, ok := claims["sub"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("invalid token")
	}
	name, _ := claims["name"].(string)
	return int64(sub), name, nil
}

func (a *Auth) issueAccountToken(accountID int64, username string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  accountID,
		"name": username,
		"exp":  time.Now().Add(accountTokenExpiry).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) allowLoginAttempt(remoteAddr string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	e := a.rateMap[remoteAddr]
	if e == nil || now.After(e.ResetAt) {
		a.rateMap[remoteAddr] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	e.Count++
	return e.Count <= maxLoginAttempts
}
