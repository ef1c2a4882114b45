package server

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/groupchat/internal/identity"
	"github.com/Tyrowin/groupchat/internal/invite"
	"github.com/Tyrowin/groupchat/internal/keylock"
	"github.com/Tyrowin/groupchat/internal/registry"
	"github.com/Tyrowin/groupchat/internal/routing"
	"github.com/Tyrowin/groupchat/internal/session"
	"github.com/Tyrowin/groupchat/internal/store"
)

// Server wires the chat core to its HTTP and WebSocket surface.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	store    store.Store
	identity identity.Resolver
	registry *registry.Registry
	sessions *session.Manager
	router   *routing.Router
	hub      *Hub
	dispatch *dispatcher
	upgrader websocket.Upgrader
}

// New assembles a Server over st, authenticating upgrades with resolver.
// The hub is created but not started; run it with StartHub.
func New(cfg Config, st store.Store, resolver identity.Resolver, logger *slog.Logger) *Server {
	cfg = cfg.Sanitize()
	if logger == nil {
		logger = slog.Default()
	}

	invites := invite.NewGenerator(st, invite.WithLogger(logger.With("component", "invite")))
	// One lock per group, shared so sends and group mutations serialize.
	locks := &keylock.Map{}
	reg := registry.New(st, invites,
		registry.WithLogger(logger.With("component", "registry")),
		registry.WithPublicBaseURL(cfg.PublicBaseURL),
		registry.WithLocks(locks),
	)
	sessions := session.NewManager(logger.With("component", "session"))
	router := routing.New(st, reg, sessions,
		routing.WithLogger(logger.With("component", "router")),
		routing.WithEncoder(fanOutEncoder),
		routing.WithMaxTextLength(cfg.MaxTextLength),
		routing.WithHistoryLimit(cfg.HistoryLimit),
		routing.WithLocks(locks),
	)
	hub := NewHub(sessions, logger.With("component", "hub"))
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		identity: resolver,
		registry: reg,
		sessions: sessions,
		router:   router,
		hub:      hub,
		dispatch: newDispatcher(reg, router, hub, logger.With("component", "dispatch")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the server's hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Sessions exposes the live session index for diagnostics.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}
