package api

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/realtime"
	"github.com/matheus3301/bolechat/internal/rpc"
	"github.com/matheus3301/bolechat/internal/status"
	"github.com/matheus3301/bolechat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Authenticator owns the session's credentials and the connections that
// depend on them.
type Authenticator interface {
	Login(ctx context.Context, token string) (backend.Claims, error)
	LoginWithPassword(ctx context.Context, username, password string) (backend.Claims, error)
	Logout(ctx context.Context) error
}

// Syncer reloads the store from the backend.
type Syncer interface {
	Reconcile(ctx context.Context) error
	LastSynced() time.Time
}

// PushState reports on the push connection. Running is true while the
// connection loop is active, including between reconnect attempts.
type PushState interface {
	Connected() bool
	Running() bool
}

var sessionEvents = []string{
	status.EventStatusChanged,
	realtime.EventConnected,
	realtime.EventDisconnected,
	realtime.EventUnauthorized,
}

// SessionService implements rpc.SessionServer.
type SessionService struct {
	sessionName string
	apiURL      string
	startedAt   time.Time
	machine     *status.Machine
	bus         *bus.Bus
	store       *chat.Store
	db          *store.DB
	auth        Authenticator
	push        PushState
	syncer      Syncer
}

var _ rpc.SessionServer = (*SessionService)(nil)

// NewSessionService creates a new session service.
func NewSessionService(sessionName, apiURL string, machine *status.Machine, b *bus.Bus, s *chat.Store, db *store.DB, auth Authenticator, push PushState, syncer Syncer) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		apiURL:      apiURL,
		startedAt:   time.Now(),
		machine:     machine,
		bus:         b,
		store:       s,
		db:          db,
		auth:        auth,
		push:        push,
		syncer:      syncer,
	}
}

func (s *SessionService) Status(_ context.Context, _ *rpc.StatusRequest) (*rpc.StatusResponse, error) {
	resp := &rpc.StatusResponse{
		Session:  s.sessionName,
		State:    string(s.machine.Current()),
		APIURL:   s.apiURL,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.store != nil {
		resp.UserID = s.store.Self()
		resp.Conversations = len(s.store.Conversations())
		resp.Current = s.store.Current()
		if err := s.store.LastError(); err != nil {
			resp.LastError = err.Error()
		}
	}
	if s.push != nil {
		resp.PushConnected = s.push.Connected()
		resp.PushRunning = s.push.Running()
	}
	if s.bus != nil {
		resp.DroppedEvents = s.bus.Dropped()
	}
	if s.syncer != nil {
		if t := s.syncer.LastSynced(); !t.IsZero() {
			resp.LastSyncedMs = t.UnixMilli()
		}
	}
	if s.db != nil {
		if unsent, err := s.db.UnsentOutbox(); err == nil {
			resp.UnsentOutbox = len(unsent)
		}
	}
	return resp, nil
}

func (s *SessionService) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {
	if s.auth == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "authenticator not initialized")
	}

	var (
		claims backend.Claims
		err    error
	)
	switch {
	case strings.TrimSpace(req.Token) != "":
		claims, err = s.auth.Login(ctx, strings.TrimSpace(req.Token))
	case req.Username != "":
		claims, err = s.auth.LoginWithPassword(ctx, req.Username, req.Password)
	default:
		return nil, grpcstatus.Error(codes.InvalidArgument, "token or username required")
	}
	if err != nil {
		return nil, toStatus("login", err)
	}

	resp := &rpc.LoginResponse{
		UserID:   claims.UserID,
		Username: claims.Username,
		State:    string(s.machine.Current()),
	}
	if !claims.ExpiresAt.IsZero() {
		resp.ExpiresMs = claims.ExpiresAt.UnixMilli()
	}
	return resp, nil
}

func (s *SessionService) Logout(ctx context.Context, _ *rpc.LogoutRequest) (*rpc.LogoutResponse, error) {
	if s.auth == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "authenticator not initialized")
	}
	if err := s.auth.Logout(ctx); err != nil {
		return nil, toStatus("logout", err)
	}
	return &rpc.LogoutResponse{State: string(s.machine.Current())}, nil
}

func (s *SessionService) Watch(req *rpc.WatchRequest, stream rpc.EventStream) error {
	return watch(s.bus, req, stream, sessionEvents, nil)
}
