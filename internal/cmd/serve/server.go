package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/backfill"
	"github.com/chirino/chat-encryption/internal/cmd/cmdutil"
	"github.com/chirino/chat-encryption/internal/config"
	"github.com/chirino/chat-encryption/internal/plugin/route/admin"
	routesystem "github.com/chirino/chat-encryption/internal/plugin/route/system"
	storemetrics "github.com/chirino/chat-encryption/internal/plugin/store/metrics"
	registrymigrate "github.com/chirino/chat-encryption/internal/registry/migrate"
	registryroute "github.com/chirino/chat-encryption/internal/registry/route"
	registrystore "github.com/chirino/chat-encryption/internal/registry/store"
	"github.com/chirino/chat-encryption/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ChatStore
	Router          *gin.Engine
	Listener        *Listener
	rawStore        registrystore.ChatStore
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Listener.Close(ctx)
	cmdutil.CloseStore(s.rawStore)
	return err
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Listener.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat encryption service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"encryption", cfg.EncryptionEnabled(),
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(config.WithContext(ctx, cfg)); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	ctx, rawStore, codec, err := cmdutil.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := storemetrics.Wrap(rawStore)
	runner := backfill.New(store, codec, backfill.WithChunkSize(cfg.BackfillChunkSize))

	if cfg.AdminToken == "" {
		log.Warn("No admin token configured; admin API is unauthenticated")
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.AdminAuditMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	admin.MountRoutes(router, store, runner, security.AdminTokenMiddleware(cfg.AdminToken))

	// Management routes go on their own listener when a management port is
	// configured, otherwise on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter); err != nil {
			cmdutil.CloseStore(rawStore)
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		mgmt, err := startListener("management", mgmtCfg, mgmtRouter)
		if err != nil {
			cmdutil.CloseStore(rawStore)
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "addr", mgmt.Addr)
		closeManagement = mgmt.Close
	} else if err := registryroute.Mount(router); err != nil {
		cmdutil.CloseStore(rawStore)
		return nil, fmt.Errorf("failed to load management routes: %w", err)
	}

	listener, err := startListener("http", cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(context.Background())
		}
		cmdutil.CloseStore(rawStore)
		return nil, err
	}

	log.Info("Server listening",
		"port", listener.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Router:          router,
		Listener:        listener,
		rawStore:        rawStore,
		closeManagement: closeManagement,
	}, nil
}
