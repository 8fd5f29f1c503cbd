package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"supportchat/internal/api"
	"supportchat/internal/config"
	"supportchat/internal/database"
	"supportchat/internal/hub"
	"supportchat/internal/polling"
	"supportchat/internal/router"
	"supportchat/internal/schedule"
	"supportchat/internal/session"
	"supportchat/internal/typing"
	"supportchat/internal/websocket"
	pkgdatabase "supportchat/pkg/database"
	"supportchat/pkg/interfaces"
)

var (
	ErrNotStarted     = errors.New("application not started")
	ErrAlreadyStarted = errors.New("application already started")
	ErrStopped        = errors.New("application stopped")
)

// Application wires the chat client components together.
// Initialization order: Cache → API → Router → Hub → Schedule; Start adds
// the push connection.
type Application struct {
	config *config.Config
	root   zerolog.Logger
	log    zerolog.Logger
	cache  *database.Manager
	api    *api.Client
	router *router.Router
	hub    *hub.Hub
	hours  *schedule.Lookup
	push   *websocket.Client
	dialer func(ctx context.Context, handler websocket.FrameHandler) (*websocket.Client, error)

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	stopped       bool
	currentUserID string
	conversations map[*Conversation]struct{}
}

// NewApplication creates the client. A nil cfg uses the defaults.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var cache *database.Manager
	if cfg.Database.Enabled {
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Database.Path
		dbConfig.WriteTimeout = cfg.Database.Timeout

		var err error
		cache, err = database.NewManager(dbConfig, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize message cache: %w", err)
		}
	}

	apiClient, err := api.NewClient(cfg.API, log)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, fmt.Errorf("failed to initialize API client: %w", err)
	}

	hours, err := schedule.NewLookup(apiClient, cfg.Schedule.ID, log)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, fmt.Errorf("failed to initialize schedule lookup: %w", err)
	}

	app := &Application{
		config:        cfg,
		root:          log,
		log:           log.With().Str("component", "app").Logger(),
		cache:         cache,
		api:           apiClient,
		router:        router.NewRouter(log),
		hub:           hub.NewHub(cfg.Hub.BufferSize, log),
		hours:         hours,
		conversations: make(map[*Conversation]struct{}),
	}
	app.dialer = func(ctx context.Context, handler websocket.FrameHandler) (*websocket.Client, error) {
		return websocket.Dial(ctx, cfg.Push, handler, nil, log)
	}
	return app, nil
}

// Start runs the listener hub and opens the push connection. A push
// connection that cannot be opened is logged; sessions then rely on
// polling alone.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.stopped {
		return ErrStopped
	}
	if app.started {
		return ErrAlreadyStarted
	}

	app.ctx, app.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := app.hub.Start(app.ctx); err != nil {
		app.cancel()
		return fmt.Errorf("failed to start listener hub: %w", err)
	}

	if app.config.Push.URL != "" {
		push, err := app.dialer(ctx, app.router)
		if err != nil {
			app.log.Warn().Err(err).Msg("Push connection unavailable, falling back to polling")
		} else {
			app.push = push
		}
	}

	app.started = true
	app.log.Info().
		Str("api", app.config.API.BaseURL).
		Bool("push", app.push != nil).
		Bool("cache", app.cache != nil).
		Msg("Support chat client started")
	return nil
}

// SetCurrentUserID names the SDK user so that its own typing echoes are
// ignored. It applies to conversations opened afterwards.
func (app *Application) SetCurrentUserID(id string) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.currentUserID = id
}

// AddListener registers a listener for every conversation. See hub.AddListener.
func (app *Application) AddListener(listener any) (func(), error) {
	return app.hub.AddListener(listener)
}

// BusinessHours returns the shared business hours lookup.
func (app *Application) BusinessHours() *schedule.Lookup {
	return app.hours
}

// OpenConversation returns a handle for a new conversation. The backend
// session is created on the first SendMessage.
func (app *Application) OpenConversation(formID string) (*Conversation, error) {
	conv, opts, err := app.newConversation()
	if err != nil {
		return nil, err
	}

	coord, err := session.NewForConversation(formID, opts)
	if err != nil {
		return nil, err
	}
	return app.finish(conv, coord)
}

// OpenSession returns a handle for an existing session, restored from the
// cache when one is configured.
func (app *Application) OpenSession(ctx context.Context, sessionID string) (*Conversation, error) {
	conv, opts, err := app.newConversation()
	if err != nil {
		return nil, err
	}

	coord, err := session.NewWithSessionID(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}
	conv, err = app.finish(conv, coord)
	if err != nil {
		return nil, err
	}
	conv.attach(sessionID)
	return conv, nil
}

func (app *Application) newConversation() (*Conversation, session.Options, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.stopped {
		return nil, session.Options{}, ErrStopped
	}
	if !app.started {
		return nil, session.Options{}, ErrNotStarted
	}

	conv := &Conversation{app: app}
	opts := session.Options{
		Transport:         app.api,
		Notifier:          app.hub,
		Satisfaction:      app.api,
		Logger:            app.root,
		PageSize:          app.config.Polling.PageSize,
		OnSessionAssigned: conv.attach,
	}
	if app.cache != nil {
		opts.Cache = app.cache
	}
	return conv, opts, nil
}

func (app *Application) finish(conv *Conversation, coord *session.Coordinator) (*Conversation, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	var publisher interfaces.TypingPublisher
	if app.push != nil {
		publisher = app.push
	}

	poller, err := polling.NewManager(app.api, coord, polling.Config{
		Interval:    app.config.Polling.Interval,
		MaxInterval: app.config.Polling.MaxInterval,
		PageSize:    app.config.Polling.PageSize,
	}, app.root)
	if err != nil {
		_ = coord.Close()
		return nil, err
	}

	conv.Coordinator = coord
	conv.poller = poller
	conv.Typing = typing.New(coord.SessionID, typing.Options{
		Publisher:        publisher,
		Source:           app.router,
		Dispatcher:       app.hub,
		CurrentUserID:    app.currentUserID,
		StaleAfter:       app.config.Typing.StaleAfter,
		ThrottleInterval: app.config.Typing.ThrottleInterval,
		Logger:           app.root,
	})
	app.conversations[conv] = struct{}{}
	return conv, nil
}

func (app *Application) forget(conv *Conversation) {
	app.mu.Lock()
	defer app.mu.Unlock()
	delete(app.conversations, conv)
}

// Stop closes every conversation, then the push connection, the hub and
// the cache, in that order.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	if app.stopped {
		app.mu.Unlock()
		return nil
	}
	app.stopped = true
	conversations := make([]*Conversation, 0, len(app.conversations))
	for conv := range app.conversations {
		conversations = append(conversations, conv)
	}
	app.mu.Unlock()

	app.log.Info().Int("conversations", len(conversations)).Msg("Shutting down support chat client")

	var g errgroup.Group
	for _, conv := range conversations {
		g.Go(conv.Close)
	}
	if err := g.Wait(); err != nil {
		app.log.Warn().Err(err).Msg("Conversation shutdown error")
	}

	if app.push != nil {
		if err := app.push.Close(); err != nil {
			app.log.Warn().Err(err).Msg("Push connection shutdown error")
		}
	}
	if app.started {
		if err := app.hub.Stop(); err != nil {
			app.log.Warn().Err(err).Msg("Listener hub shutdown error")
		}
		select {
		case <-app.hub.Done():
		case <-ctx.Done():
		}
		app.cancel()
	}
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.log.Warn().Err(err).Msg("Message cache shutdown error")
		}
	}

	app.log.Info().Msg("Support chat client shutdown complete")
	return nil
}

// Conversation bundles a session coordinator with its typing channel and
// poller. Coordinator methods are promoted.
type Conversation struct {
	*session.Coordinator
	Typing *typing.Channel

	app    *Application
	poller *polling.Manager
	once   sync.Once
}

// attach starts push routing and polling once the session id is known.
func (c *Conversation) attach(sessionID string) {
	if err := c.app.router.Register(sessionID, c.Coordinator); err != nil && !errors.Is(err, router.ErrAlreadyRegistered) {
		c.app.log.Warn().Err(err).Str("session_id", sessionID).Msg("Push routing unavailable")
	}

	c.app.mu.Lock()
	ctx := c.app.ctx
	c.app.mu.Unlock()
	if err := c.poller.Start(ctx); err != nil && !errors.Is(err, polling.ErrAlreadyRunning) {
		c.app.log.Warn().Err(err).Str("session_id", sessionID).Msg("Polling unavailable")
	}
}

// Poller exposes the queue status poller.
func (c *Conversation) Poller() *polling.Manager {
	return c.poller
}

// Close stops polling and typing, then closes the coordinator.
func (c *Conversation) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.poller.Stop()
		c.Typing.Close()
		if id := c.SessionID(); id != "" {
			c.app.router.Unregister(id)
		}
		err = c.Coordinator.Close()
		c.app.forget(c)
	})
	return err
}
