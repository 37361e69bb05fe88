package server

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/classifier-api/internal/config"
	"github.com/Brownie44l1/classifier-api/internal/handlers"
	"github.com/Brownie44l1/classifier-api/internal/metrics"
)

type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	log        *zap.Logger
}

// NewRouter registers the API routes and middleware.
func NewRouter(cfg *config.Config, classifier handlers.Classifier, m *metrics.Metrics, log *zap.Logger) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog(log))
	router.Use(observe(m))

	h := handlers.NewHandler(classifier, cfg.App.MaxUploadSize, log)

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.POST("/predict", h.Predict)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	return withCORS(router, cfg.Server.CORSAllowedOrigins)
}

// withCORS leaves CORS disabled unless origins are configured.
func withCORS(next http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return next
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		MaxAge:         600,
	})
	return c.Handler(next)
}

func New(cfg *config.Config, classifier handlers.Classifier, m *metrics.Metrics, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		httpServer: &http.Server{
			Addr:           net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:        NewRouter(cfg, classifier, m, log),
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		cfg: cfg,
		log: log,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port))

	return server
}

func (s *Server) Run() error {
	s.log.Info("Server is running",
		zap.String("address", s.httpServer.Addr),
		zap.Strings("endpoints", []string{
			"GET /health",
			"GET /ready",
			"POST /predict",
			"GET /metrics",
		}))

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}
