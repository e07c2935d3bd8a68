package server

import (
	"context"
	"errors"
	"net"
	gohttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/emberworks/emberos/internal/board"
	"github.com/emberworks/emberos/internal/config"
	"github.com/emberworks/emberos/internal/http"
	"github.com/emberworks/emberos/internal/infrastructure/monitoring"
	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/logging"
	"github.com/emberworks/emberos/internal/middleware"
	"github.com/emberworks/emberos/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// Server is the operator console: REST API, trace stream, and the
// Prometheus endpoint, all over one listener.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	log    *logging.Logger
}

// New wires the console routes over an assembled board.
func New(cfg *config.Config, b *board.Board, metrics *monitoring.Metrics, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(tracing.HTTPMiddleware(log.Component("http").Logger))
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	handlers := http.NewHandlers(b.Kernel, metrics, b.Config.Name, cfg.Board.ImageDirs, log.Component("http"))
	wsHandler := ws.NewHandler(b.Kernel.Trace(), metrics, log.Component("ws"))

	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	api := engine.Group("/api")
	api.GET("/kernel", handlers.KernelInfo)
	api.GET("/processes", handlers.ListProcesses)
	api.GET("/processes/:pid", handlers.GetProcess)
	api.GET("/images", handlers.ListImages)

	// Mutating operations sit behind the rate limiter so a runaway
	// client cannot thrash the board.
	mutate := engine.Group("/api")
	if cfg.RateLimit.Enabled {
		mutate.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	mutate.POST("/processes/:pid/start", handlers.StartProcess)
	mutate.POST("/processes/:pid/stop", handlers.StopProcess)
	mutate.POST("/processes/:pid/restart", handlers.RestartProcess)
	mutate.DELETE("/processes/:pid", handlers.UninstallProcess)
	mutate.POST("/images", handlers.InstallImage)

	engine.GET("/stream", wsHandler.HandleConnection)

	return &Server{cfg: cfg, engine: engine, log: log.Component("server")}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is canceled, then drains in-flight requests.
// The listener caps concurrent connections at the configured maximum.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Console.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if max := s.cfg.Console.MaxConns; max > 0 {
		ln = netutil.LimitListener(ln, max)
	}

	srv := &gohttp.Server{Handler: s.engine}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("console listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, gohttp.ErrServerClosed) {
		return err
	}
	return nil
}
