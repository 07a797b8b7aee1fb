package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/config"
	"github.com/rhyline/rhyline-server/internal/v1/httpapi"
	"github.com/rhyline/rhyline-server/internal/v1/identity"
	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/push"
	"github.com/rhyline/rhyline-server/internal/v1/replay"
	"github.com/rhyline/rhyline-server/internal/v1/session"
	"github.com/rhyline/rhyline-server/internal/v1/store"
	"github.com/rhyline/rhyline-server/internal/v1/tracing"
	"github.com/rhyline/rhyline-server/internal/v1/trust"
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "rhyline-server", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Error(ctx, "tracing init failed, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	adminData, err := store.Load(cfg.AdminDataPath)
	if err != nil {
		logging.Fatal(ctx, "loading admin data failed", zap.Error(err))
	}

	idc := identity.NewClient(cfg.APIBaseURL)

	blacklist := trust.NewBlacklist()
	blacklist.StartSweeper(ctx)
	otps := trust.NewOTPStore()
	tokens := trust.NewTokenStore()

	// The push hub accepts the same admin credentials as the REST surface.
	pushHub := push.NewHub(func(token, ip string) bool {
		if cfg.AdminToken != "" && token == cfg.AdminToken {
			return true
		}
		if cfg.ViewToken != "" && token == cfg.ViewToken {
			return true
		}
		return tokens.Validate(token, ip)
	})

	hub := session.NewHub(cfg, idc, adminData, pushHub)
	pushHub.SetSource(hub)

	replay.StartSweeper(ctx, cfg.RecordDir())

	// Game TCP listener, dual-stack.
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GamePort))
	if err != nil {
		logging.Fatal(ctx, "game listener failed", zap.Error(err))
	}
	go hub.Serve(ln)
	logging.Info(ctx, "game server listening", zap.Int("port", cfg.GamePort))

	var httpSrv *http.Server
	if cfg.HTTPService {
		api := httpapi.NewServer(cfg, hub, idc, pushHub, otps, tokens, blacklist,
			replay.NewSessions(replaySecret(cfg)))
		router, err := api.Router()
		if err != nil {
			logging.Fatal(ctx, "http router failed", zap.Error(err))
		}
		httpSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler: router,
		}
		go func() {
			logging.Info(ctx, "http server listening", zap.Int("port", cfg.HTTPPort))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error(ctx, "http server failed", zap.Error(err))
				_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()

	_ = ln.Close()
	hub.Shutdown()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logging.Error(ctx, "http shutdown failed", zap.Error(err))
		}
	}
	cancel()
	logging.Info(ctx, "server exiting")
}

// replaySecret picks the signing key for replay download sessions: the
// configured secret, falling back to the admin token, falling back to a
// random per-boot key (sessions then die with the process).
func replaySecret(cfg *config.Config) []byte {
	if cfg.ReplaySecret != "" {
		return []byte(cfg.ReplaySecret)
	}
	if cfg.AdminToken != "" {
		return []byte(cfg.AdminToken)
	}
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return buf
}
