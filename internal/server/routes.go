package server

import "net/http"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+s.p("/api/v1/health"), s.api.Health)
	if s.metrics != nil {
		mux.Handle("GET "+s.p(s.cfg.Metrics.Path), s.metrics.Handler())
	}

	mux.HandleFunc("POST "+s.p("/api/v1/codes"), s.api.Code)
	mux.HandleFunc("POST "+s.p("/api/v1/codes/verify"), s.api.Verify)
	mux.HandleFunc("GET "+s.p("/api/v1/codes/stream"), s.api.Stream)

	mux.HandleFunc("POST "+s.p("/api/v1/secrets"), s.api.Provision)
	mux.HandleFunc("POST "+s.p("/api/v1/secrets/validate"), s.api.ValidateSecret)

	mux.HandleFunc("POST "+s.p("/api/v1/import"), s.api.Import)
	mux.HandleFunc("POST "+s.p("/api/v1/export"), s.api.Export)
	mux.HandleFunc("POST "+s.p("/api/v1/slots"), s.api.Slots)
}
