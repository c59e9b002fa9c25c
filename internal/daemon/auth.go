package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/session"
	"github.com/matheus3301/bolechat/internal/status"
	"github.com/matheus3301/bolechat/internal/store"
	"go.uber.org/zap"
)

// TokenStore persists the bearer token across restarts.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Delete() error
}

// Push is the part of the real-time connection credentials affect.
type Push interface {
	Connect() error
	Close()
}

// Auth owns the session's credentials. It keeps the token file, the REST
// client, the push connection and the signed-in user id in agreement, and
// wipes cached state when a different user signs in.
type Auth struct {
	mu      sync.Mutex
	tokens  TokenStore
	client  *backend.Client
	push    Push
	store   *chat.Store
	db      *store.DB
	machine *status.Machine
	logger  *zap.Logger
	now     func() time.Time
}

func NewAuth(tokens TokenStore, client *backend.Client, push Push, s *chat.Store, db *store.DB, machine *status.Machine, logger *zap.Logger) *Auth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auth{
		tokens:  tokens,
		client:  client,
		push:    push,
		store:   s,
		db:      db,
		machine: machine,
		logger:  logger,
		now:     time.Now,
	}
}

// Restore installs the stored token, or fallback when none is stored, and
// reports whether the session is signed in. A missing or expired token
// moves the machine to AuthRequired.
func (a *Auth) Restore(fallback string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, err := a.tokens.Load()
	if errors.Is(err, session.ErrNoToken) {
		token = fallback
	} else if err != nil {
		return false, err
	}
	if token == "" {
		a.logger.Info("no credentials found, auth required")
		return false, a.machine.Advance(status.AuthRequired)
	}

	claims, err := a.claims(token)
	if err != nil {
		a.logger.Warn("stored token unusable, auth required", zap.Error(err))
		return false, a.machine.Advance(status.AuthRequired)
	}
	if err := a.apply(token, claims); err != nil {
		return false, err
	}
	a.logger.Info("credentials restored", zap.String("user_id", claims.UserID))
	return true, nil
}

// Connect (re)starts the push connection under the current token.
func (a *Auth) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connect()
}

// Login signs in with a bearer token.
func (a *Auth) Login(_ context.Context, token string) (backend.Claims, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	claims, err := a.claims(token)
	if err != nil {
		return backend.Claims{}, err
	}
	return claims, a.signIn(token, claims)
}

// LoginWithPassword exchanges credentials for a token and signs in with it.
func (a *Auth) LoginWithPassword(ctx context.Context, username, password string) (backend.Claims, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.client.Login(ctx, username, password)
	if err != nil {
		return backend.Claims{}, err
	}
	claims, err := a.claims(sess.Token)
	if err != nil {
		return backend.Claims{}, err
	}
	if claims.UserID == "" {
		claims.UserID = sess.UserID
	}
	if claims.Username == "" {
		claims.Username = sess.Username
	}
	return claims, a.signIn(sess.Token, claims)
}

// Logout drops the token and every cached row, failed sends included.
func (a *Auth) Logout(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.push.Close()
	if err := a.tokens.Delete(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	a.client.SetToken("")
	if err := a.db.Reset(); err != nil {
		return fmt.Errorf("reset cache: %w", err)
	}
	a.store.Reset()
	a.store.SetSelf("")

	path := []status.State{status.AuthRequired}
	if a.machine.Current() == status.Error {
		path = []status.State{status.Booting, status.AuthRequired}
	}
	if err := a.machine.Advance(path...); err != nil {
		return err
	}
	a.logger.Info("logged out")
	return nil
}

func (a *Auth) claims(token string) (backend.Claims, error) {
	claims, err := backend.ParseToken(token)
	if err != nil {
		return backend.Claims{}, fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	}
	if claims.UserID == "" {
		return backend.Claims{}, fmt.Errorf("%w: token names no user", backend.ErrUnauthorized)
	}
	if claims.Expired(a.now()) {
		return backend.Claims{}, fmt.Errorf("%w: token expired at %s", backend.ErrUnauthorized, claims.ExpiresAt.Format(time.RFC3339))
	}
	return claims, nil
}

func (a *Auth) signIn(token string, claims backend.Claims) error {
	if err := a.tokens.Save(token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := a.apply(token, claims); err != nil {
		return err
	}
	a.logger.Info("signed in", zap.String("user_id", claims.UserID))
	return a.connect()
}

func (a *Auth) apply(token string, claims backend.Claims) error {
	prev, err := a.db.GetSyncState(store.KeySelfID)
	if err != nil {
		return fmt.Errorf("read cached user: %w", err)
	}
	if prev != "" && prev != claims.UserID {
		a.logger.Info("different user signed in, dropping cache",
			zap.String("previous", prev), zap.String("user_id", claims.UserID))
		a.push.Close()
		if err := a.db.Reset(); err != nil {
			return fmt.Errorf("reset cache: %w", err)
		}
		a.store.Reset()
	}
	if err := a.db.SetSyncState(store.KeySelfID, claims.UserID); err != nil {
		return fmt.Errorf("record user: %w", err)
	}
	a.client.SetToken(token)
	a.store.SetSelf(claims.UserID)
	return nil
}

func (a *Auth) connect() error {
	var path []status.State
	switch a.machine.Current() {
	case status.Online, status.Syncing:
		path = []status.State{status.Reconnecting, status.Connecting}
	case status.Error:
		path = []status.State{status.Booting, status.Connecting}
	default:
		path = []status.State{status.Connecting}
	}
	if err := a.machine.Advance(path...); err != nil {
		return err
	}
	a.push.Close()
	if err := a.push.Connect(); err != nil {
		_ = a.machine.Transition(status.Error)
		return fmt.Errorf("connect push channel: %w", err)
	}
	return nil
}
