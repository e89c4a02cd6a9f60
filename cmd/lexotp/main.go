package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/y0f/lexotp/internal/config"
	"github.com/y0f/lexotp/internal/server"
	"github.com/y0f/lexotp/internal/totp"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")

	code := flag.String("code", "", "print the current code for a base32 secret and exit")
	watch := flag.Bool("watch", false, "with -code, keep printing the code until interrupted")
	validateSecret := flag.String("validate", "", "check the format of a base32 secret and exit")
	importURL := flag.String("import", "", "decode an otpauth:// or otpauth-migration:// link and print its accounts")
	provision := flag.String("provision", "", "generate a secret for the named account and print its key uri")
	export := flag.Bool("export", false, "encode the otpauth:// key uris given as arguments as migration links")
	showQR := flag.Bool("qr", false, "with -provision or -export, print a terminal QR code")

	digits := flag.Int("digits", 0, "code length, 6 or 8 (default from config)")
	period := flag.Int("period", 0, "time step in seconds (default from config)")
	algorithm := flag.String("algorithm", "", "SHA1, SHA256, SHA512 or MD5 (default from config)")
	issuer := flag.String("issuer", "", "issuer for -provision (default from config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lexotp %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	opts := cliOptions{
		Digits:    *digits,
		Period:    *period,
		Algorithm: *algorithm,
		Issuer:    *issuer,
		QR:        *showQR,
	}
	gen := totp.New()
	cliLogger := setupLogger(cfg.Logging, os.Stderr)

	var run func(io.Writer) error
	switch {
	case *code != "" && *watch:
		run = func(w io.Writer) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, w, cfg, gen, *code, opts)
		}
	case *code != "":
		run = func(w io.Writer) error { return runCode(w, cfg, gen, *code, opts) }
	case *validateSecret != "":
		run = func(w io.Writer) error { return runValidate(w, *validateSecret) }
	case *importURL != "":
		run = func(w io.Writer) error { return runImport(w, cfg, cliLogger, *importURL) }
	case *provision != "":
		run = func(w io.Writer) error { return runProvision(w, cfg, *provision, opts) }
	case *export:
		run = func(w io.Writer) error { return runExport(w, cfg, flag.Args(), opts) }
	}

	if run != nil {
		if err := run(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	if err := serve(cfg, gen, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, gen *totp.Generator, logger *slog.Logger) error {
	logger.Info("starting lexotp", "version", version, "listen", cfg.Server.Listen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.NewServer(cfg, gen, logger, version)
	defer srv.Close()

	httpServer, err := startHTTPServer(cfg, srv, logger, cancel)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func startHTTPServer(cfg *config.Config, handler http.Handler, logger *slog.Logger, cancel context.CancelFunc) (*http.Server, error) {
	httpServer := &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		go func() {
			logger.Info("starting HTTPS server", "listen", ln.Addr().String(), "max_conns", cfg.Server.MaxConns)
			if err := httpServer.ServeTLS(ln, cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTPS server error", "error", err)
				cancel()
			}
		}()
	} else {
		go func() {
			logger.Info("starting HTTP server", "listen", ln.Addr().String(), "max_conns", cfg.Server.MaxConns)
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
				cancel()
			}
		}()
	}

	return httpServer, nil
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
