// Package httpapi is the HTTP surface of the server: public read-only views,
// the admin REST API, the replay download endpoints, and the telemetry
// WebSocket mount.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rhyline/rhyline-server/internal/v1/config"
	"github.com/rhyline/rhyline-server/internal/v1/health"
	"github.com/rhyline/rhyline-server/internal/v1/identity"
	"github.com/rhyline/rhyline-server/internal/v1/middleware"
	"github.com/rhyline/rhyline-server/internal/v1/push"
	"github.com/rhyline/rhyline-server/internal/v1/ratelimit"
	"github.com/rhyline/rhyline-server/internal/v1/replay"
	"github.com/rhyline/rhyline-server/internal/v1/session"
	"github.com/rhyline/rhyline-server/internal/v1/trust"
)

// Version is the API version reported by /status.
const Version = "1.0.0"

// identityAPI is the slice of the identity client the HTTP layer consumes;
// tests substitute a stub.
type identityAPI interface {
	Me(ctx context.Context, token string) (identity.Me, error)
	ChartName(ctx context.Context, id int32) string
}

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	cfg      *config.Config
	hub      *session.Hub
	identity identityAPI
	push     *push.Hub

	otps      *trust.OTPStore
	tokens    *trust.TokenStore
	blacklist *trust.Blacklist

	replaySessions *replay.Sessions
	recordDir      string
}

// NewServer wires the HTTP surface. pushHub may be nil when telemetry is
// disabled.
func NewServer(cfg *config.Config, hub *session.Hub, idc identityAPI, pushHub *push.Hub,
	otps *trust.OTPStore, tokens *trust.TokenStore, blacklist *trust.Blacklist,
	replaySessions *replay.Sessions) *Server {
	return &Server{
		cfg:            cfg,
		hub:            hub,
		identity:       idc,
		push:           pushHub,
		otps:           otps,
		tokens:         tokens,
		blacklist:      blacklist,
		replaySessions: replaySessions,
		recordDir:      cfg.RecordDir(),
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() (*gin.Engine, error) {
	rl, err := ratelimit.New(s.cfg.RateLimitPublic, s.cfg.RateLimitAdmin)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(otelgin.Middleware("rhyline-server"))
	r.Use(cors.New(s.corsConfig()))

	hc := health.NewHandler(s.recordDir)
	r.GET("/health/live", hc.Liveness)
	r.GET("/health/ready", hc.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pub := r.Group("/", rl.Public())
	pub.GET("/rooms", s.listRooms)
	pub.GET("/room", s.listRoomsCompat)
	pub.GET("/status", s.status)

	pub.POST("/replay/auth", s.replayAuth)
	pub.GET("/replay/download", s.replayDownload)
	pub.POST("/replay/delete", s.replayDelete)

	if s.push != nil {
		r.GET("/ws", s.push.Handler())
	}

	admin := r.Group("/admin", rl.Admin(), s.blacklistGate())
	admin.POST("/otp/request", s.otpRequest)
	admin.POST("/otp/verify", s.otpVerify)

	authed := admin.Group("/", s.adminAuth())
	authed.GET("/rooms", s.listRooms)
	authed.POST("/rooms/:id/max_users", s.adminSetMaxUsers)
	authed.POST("/rooms/:id/disband", s.adminDisband)
	authed.POST("/rooms/:id/chat", s.adminRoomChat)
	authed.POST("/broadcast", s.adminBroadcast)
	authed.GET("/replay/config", s.getReplayConfig)
	authed.POST("/replay/config", s.setReplayConfig)
	authed.GET("/room-creation/config", s.getRoomCreationConfig)
	authed.POST("/room-creation/config", s.setRoomCreationConfig)
	authed.GET("/ip-blacklist", s.listBlacklist)
	authed.POST("/ip-blacklist/remove", s.removeBlacklist)
	authed.POST("/ip-blacklist/clear", s.clearBlacklist)
	authed.GET("/users/:id", s.adminGetUser)
	authed.POST("/users/:id/disconnect", s.adminDisconnectUser)
	authed.POST("/users/:id/move", s.adminMoveUser)
	authed.POST("/ban/user", s.adminBanUser)
	authed.POST("/ban/room", s.adminBanFromRoom)
	authed.POST("/contest/rooms/:id/config", s.adminContestConfig)
	authed.POST("/contest/rooms/:id/whitelist", s.adminContestWhitelist)
	authed.POST("/contest/rooms/:id/start", s.adminContestStart)

	return r, nil
}

func (s *Server) corsConfig() cors.Config {
	cc := cors.DefaultConfig()
	cc.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cc.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Admin-Token", middleware.HeaderXCorrelationID}
	if s.cfg.AllowedOrigins == "" || s.cfg.AllowedOrigins == "*" {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = strings.Split(s.cfg.AllowedOrigins, ",")
	}
	return cc
}

// ok responds 200 with {ok:true} plus extra fields.
func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// fail responds with the error envelope {ok:false, error:<slug>}.
func fail(c *gin.Context, code int, slug string) {
	c.AbortWithStatusJSON(code, gin.H{"ok": false, "error": slug})
}
