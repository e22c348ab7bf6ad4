package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/audiohook/pkg/client"
	"github.com/dougsko/audiohook/pkg/config"
	"github.com/dougsko/audiohook/pkg/engine"
	"github.com/dougsko/audiohook/pkg/logging"
	"github.com/dougsko/audiohook/pkg/storage"
)

const component = "daemon"

// AudiohookDaemon runs the core engine behind its Unix socket and serves
// the diagnostics API
type AudiohookDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logging.Logger

	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	store        *storage.SessionStore
	router       *gin.Engine
	webServer    *http.Server

	socketPath string
}

// NewAudiohookDaemon creates a new daemon instance. The session store is
// opened here unless opts already carries one.
func NewAudiohookDaemon(cfg *config.Config, opts engine.Options) (*AudiohookDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}

	socketPath := cfg.API.UnixSocket
	if socketPath == "" {
		socketPath = "/tmp/audiohookd.sock"
	}

	daemon := &AudiohookDaemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		log:          opts.Logger,
		socketPath:   socketPath,
		socketClient: client.NewSocketClient(socketPath),
	}

	if opts.Store == nil {
		store, err := storage.NewSessionStore(cfg.Storage.DatabasePath, cfg.Storage.MaxSessions)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		daemon.store = store
		opts.Store = store
	}

	coreEngine, err := engine.NewCoreEngine(cfg, socketPath, opts)
	if err != nil {
		daemon.closeStore()
		cancel()
		return nil, fmt.Errorf("failed to create core engine: %w", err)
	}
	daemon.coreEngine = coreEngine

	daemon.setupWebServer()
	return daemon, nil
}

// Start starts the daemon
func (d *AudiohookDaemon) Start() error {
	d.log.Info(component, "starting audiohookd daemon")

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to core engine socket")
	}

	if d.config.Web.Port == 0 {
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.log.Infof(component, "starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Errorf(component, "web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully
func (d *AudiohookDaemon) Stop() error {
	d.log.Info(component, "stopping daemon")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			d.log.Warnf(component, "web server shutdown error: %v", err)
		}
	}

	if d.coreEngine != nil {
		if err := d.coreEngine.Stop(); err != nil {
			d.log.Warnf(component, "core engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()
	d.closeStore()

	d.log.Info(component, "daemon stopped")
	return nil
}

// closeStore closes the store if the daemon opened it
func (d *AudiohookDaemon) closeStore() {
	if d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		d.log.Warnf(component, "failed to close session store: %v", err)
	}
	d.store = nil
}

// setupWebServer initializes the web server and routes
func (d *AudiohookDaemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/drivers", d.handleGetDrivers)
		api.GET("/sessions", d.handleGetSessions)
		api.GET("/sessions/:id/events", d.handleGetEvents)
		api.GET("/levels", d.handleGetLevels)
		api.GET("/config", d.handleGetConfig)
		api.POST("/play", d.handlePlay)
		api.POST("/stop", d.handleStop)
		api.POST("/reset", d.handleReset)
		api.POST("/panel", d.handlePanel)
	}
	router.GET("/ws/levels", d.handleLevelsWebSocket)

	d.router = router
	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}
}
