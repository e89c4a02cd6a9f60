package server

import (
	"log/slog"
	"net/http"

	"github.com/y0f/lexotp/internal/api"
	"github.com/y0f/lexotp/internal/config"
	"github.com/y0f/lexotp/internal/httputil"
	"github.com/y0f/lexotp/internal/metrics"
	"github.com/y0f/lexotp/internal/totp"
)

var _ http.Handler = (*Server)(nil)

type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	api     *api.Handler
	metrics *metrics.Registry
	limiter *httputil.RateLimiter
	handler http.Handler
}

func NewServer(cfg *config.Config, gen *totp.Generator, logger *slog.Logger, version string) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		limiter: httputil.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst),
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}
	s.api = api.New(cfg, gen, s.metrics, logger, version)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	handler = bodyLimit(cfg.Server.MaxBodySize)(handler)
	handler = s.limiter.Middleware(cfg.TrustedNets(), api.WriteError)(handler)
	handler = cors(cfg.Server.CORSOrigins)(handler)
	handler = secureHeaders(cfg.Server.FrameAncestors)(handler)
	handler = instrument(s.metrics)(handler)
	handler = logging(logger)(handler)
	handler = requestID()(handler)
	handler = recovery(logger)(handler)

	s.handler = handler
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the rate limiter's background sweep.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) p(path string) string {
	return s.cfg.Server.BasePath + path
}
