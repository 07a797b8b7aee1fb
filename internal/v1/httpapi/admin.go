package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/room"
	"github.com/rhyline/rhyline-server/internal/v1/session"
	"github.com/rhyline/rhyline-server/internal/v1/trust"
)

// maxChatLength bounds admin chat and broadcast messages.
const maxChatLength = 200

// blacklistGate rejects requests from blacklisted IPs before anything else.
func (s *Server) blacklistGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.blacklist.IsBlacklisted(c.ClientIP()) {
			fail(c, http.StatusForbidden, "ip-blacklisted")
			return
		}
		c.Next()
	}
}

// adminAuth admits the permanent admin token, the read-only view token (GET
// only), and OTP-issued temp tokens bound to the caller's IP. Failures are
// counted toward the automatic IP blacklist.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		token := adminToken(c)
		if token == "" {
			s.authFailed(ip)
			fail(c, http.StatusUnauthorized, "missing-token")
			return
		}

		switch {
		case s.cfg.AdminToken != "" && token == s.cfg.AdminToken:
			// full access
		case s.cfg.ViewToken != "" && token == s.cfg.ViewToken:
			if c.Request.Method != http.MethodGet {
				fail(c, http.StatusForbidden, "view-token-readonly")
				return
			}
		case s.tokens.Validate(token, ip):
			// temp token, full access
		default:
			s.authFailed(ip)
			fail(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

// adminToken extracts the presented token from the query string, the
// X-Admin-Token header, or an Authorization bearer.
func adminToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if t := c.GetHeader("X-Admin-Token"); t != "" {
		return t
	}
	auth := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}

func (s *Server) authFailed(ip string) {
	if s.blacklist.RecordAuthFailure(ip) {
		logging.Warn(context.Background(), "admin auth failures exceeded, ip banned",
			zap.String("ip", ip))
	}
}

// otpRequest handles POST /admin/otp/request. The OTP itself only appears in
// the server log; operators read it there.
func (s *Server) otpRequest(c *gin.Context) {
	if s.cfg.AdminToken != "" {
		fail(c, http.StatusForbidden, "otp-disabled")
		return
	}
	ssid, _ := s.otps.Create()
	ok(c, gin.H{"ssid": ssid})
}

type otpVerifyRequest struct {
	SSID string `json:"ssid"`
	OTP  string `json:"otp"`
}

// otpVerify handles POST /admin/otp/verify, minting a temp token bound to the
// caller's IP on success.
func (s *Server) otpVerify(c *gin.Context) {
	if s.cfg.AdminToken != "" {
		fail(c, http.StatusForbidden, "otp-disabled")
		return
	}
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SSID == "" {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	ip := c.ClientIP()
	if !s.otps.Verify(req.SSID, req.OTP) {
		s.authFailed(ip)
		fail(c, http.StatusUnauthorized, "invalid-otp")
		return
	}
	token, ttl := s.tokens.Issue(ip)
	ok(c, gin.H{"token": token, "expiresIn": ttl.Milliseconds()})
}

// hubError maps registry and room errors onto the HTTP error envelope.
func hubError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrRoomNotFound), errors.Is(err, room.ErrClosed):
		fail(c, http.StatusNotFound, "room-not-found")
	case errors.Is(err, session.ErrUserNotFound):
		fail(c, http.StatusNotFound, "user-not-found")
	case errors.Is(err, session.ErrUserConnected):
		fail(c, http.StatusBadRequest, "user-connected")
	case errors.Is(err, session.ErrUserOffline):
		fail(c, http.StatusBadRequest, "user-offline")
	case errors.Is(err, room.ErrWrongStage):
		fail(c, http.StatusBadRequest, "wrong-stage")
	case errors.Is(err, room.ErrRoomFull):
		fail(c, http.StatusBadRequest, "room-full")
	case errors.Is(err, room.ErrNotWhitelisted):
		fail(c, http.StatusBadRequest, "not-whitelisted")
	default:
		fail(c, http.StatusBadRequest, "bad-request")
	}
}

func (s *Server) adminSetMaxUsers(c *gin.Context) {
	var req struct {
		MaxUsers int `json:"maxUsers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MaxUsers < 1 {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	if err := s.hub.SetRoomMaxUsers(c.Param("id"), req.MaxUsers); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adminDisband(c *gin.Context) {
	if err := s.hub.DisbandRoom(c.Param("id")); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adminRoomChat(c *gin.Context) {
	msg, valid := bindMessage(c)
	if !valid {
		return
	}
	if err := s.hub.RoomChat(c.Param("id"), msg); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adminBroadcast(c *gin.Context) {
	msg, valid := bindMessage(c)
	if !valid {
		return
	}
	s.hub.Broadcast(msg)
	ok(c, nil)
}

func bindMessage(c *gin.Context) (string, bool) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		fail(c, http.StatusBadRequest, "message-required")
		return "", false
	}
	if len([]rune(req.Message)) > maxChatLength {
		fail(c, http.StatusBadRequest, "message-too-long")
		return "", false
	}
	return req.Message, true
}

func (s *Server) getReplayConfig(c *gin.Context) {
	ok(c, gin.H{"enabled": s.hub.ReplayRecordingEnabled()})
}

func (s *Server) setReplayConfig(c *gin.Context) {
	enabled, valid := bindEnabled(c)
	if !valid {
		return
	}
	s.hub.SetReplayRecording(enabled)
	ok(c, gin.H{"enabled": enabled})
}

func (s *Server) getRoomCreationConfig(c *gin.Context) {
	ok(c, gin.H{"enabled": s.hub.RoomCreationEnabled()})
}

func (s *Server) setRoomCreationConfig(c *gin.Context) {
	enabled, valid := bindEnabled(c)
	if !valid {
		return
	}
	s.hub.SetRoomCreation(enabled)
	ok(c, gin.H{"enabled": enabled})
}

func bindEnabled(c *gin.Context) (bool, bool) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, "invalid-request")
		return false, false
	}
	return *req.Enabled, true
}

func (s *Server) listBlacklist(c *gin.Context) {
	entries := s.blacklist.List()
	if entries == nil {
		entries = []trust.BlacklistEntry{}
	}
	ok(c, gin.H{"entries": entries})
}

func (s *Server) removeBlacklist(c *gin.Context) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IP == "" {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	s.blacklist.Remove(req.IP)
	ok(c, nil)
}

func (s *Server) clearBlacklist(c *gin.Context) {
	s.blacklist.Clear()
	ok(c, nil)
}

func (s *Server) adminGetUser(c *gin.Context) {
	id, valid := userIDParam(c)
	if !valid {
		return
	}
	view, err := s.hub.UserByID(id)
	if err != nil {
		hubError(c, err)
		return
	}
	ok(c, gin.H{"user": view})
}

func (s *Server) adminDisconnectUser(c *gin.Context) {
	id, valid := userIDParam(c)
	if !valid {
		return
	}
	if err := s.hub.DisconnectUser(id); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adminMoveUser(c *gin.Context) {
	id, valid := userIDParam(c)
	if !valid {
		return
	}
	var req struct {
		RoomID  string `json:"roomId"`
		Monitor bool   `json:"monitor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	if err := s.hub.MoveUser(id, req.RoomID, req.Monitor); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adminBanUser(c *gin.Context) {
	var req struct {
		UserID     int32 `json:"userId"`
		Banned     bool  `json:"banned"`
		Disconnect bool  `json:"disconnect"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	s.hub.BanUser(req.UserID, req.Banned, req.Disconnect)
	ok(c, nil)
}

func (s *Server) adminBanFromRoom(c *gin.Context) {
	var req struct {
		UserID int32  `json:"userId"`
		RoomID string `json:"roomId"`
		Banned bool   `json:"banned"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 || req.RoomID == "" {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	s.hub.BanFromRoom(req.RoomID, req.UserID, req.Banned)
	ok(c, nil)
}

func (s *Server) adminContestConfig(c *gin.Context) {
	var req struct {
		Enabled   *bool   `json:"enabled"`
		Whitelist []int64 `json:"whitelist"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	if err := s.hub.ConfigureContest(c.Param("id"), *req.Enabled, req.Whitelist); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adminContestWhitelist(c *gin.Context) {
	var req struct {
		UserIDs []int64 `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	if err := s.hub.SetContestWhitelist(c.Param("id"), req.UserIDs); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adminContestStart(c *gin.Context) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	if err := s.hub.StartRoomManually(c.Param("id"), req.Force); err != nil {
		hubError(c, err)
		return
	}
	ok(c, nil)
}

func userIDParam(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid-user-id")
		return 0, false
	}
	return int32(id), true
}
