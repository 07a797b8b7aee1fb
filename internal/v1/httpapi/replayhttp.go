package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rhyline/rhyline-server/internal/v1/replay"
)

type replayAuthRequest struct {
	Token string `json:"token"`
}

// replayAuth handles POST /replay/auth: resolve the game bearer token, mint a
// short-lived download session, and list the caller's stored replays.
func (s *Server) replayAuth(c *gin.Context) {
	var req replayAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		fail(c, http.StatusBadRequest, "token-required")
		return
	}
	me, err := s.identity.Me(c.Request.Context(), req.Token)
	if err != nil {
		fail(c, http.StatusUnauthorized, "authentication-failed")
		return
	}
	sessionToken, err := s.replaySessions.Issue(me.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "session-issue-failed")
		return
	}
	files, err := replay.ListFiles(s.recordDir, me.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "listing-failed")
		return
	}
	ok(c, gin.H{
		"sessionToken": sessionToken,
		"expiresIn":    replay.SessionTTL.Milliseconds(),
		"userId":       me.ID,
		"files":        files,
	})
}

// replayDownload handles GET /replay/download, streaming one replay file at
// the throttled rate.
func (s *Server) replayDownload(c *gin.Context) {
	userID, chartID, timestamp, valid := s.replayFileQuery(c)
	if !valid {
		return
	}
	f, err := os.Open(replay.FilePath(s.recordDir, userID, chartID, timestamp))
	if err != nil {
		fail(c, http.StatusNotFound, "replay-not-found")
		return
	}
	defer func() { _ = f.Close() }()

	if info, err := f.Stat(); err == nil {
		c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=%d%s", timestamp, replay.FileExt))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, replay.NewThrottledReader(f))
}

type replayDeleteRequest struct {
	SessionToken string `json:"sessionToken"`
	ChartID      int32  `json:"chartId"`
	Timestamp    int64  `json:"timestamp"`
}

// replayDelete handles POST /replay/delete.
func (s *Server) replayDelete(c *gin.Context) {
	var req replayDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid-request")
		return
	}
	userID, err := s.replaySessions.Verify(req.SessionToken)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid-session")
		return
	}
	path := replay.FilePath(s.recordDir, userID, req.ChartID, req.Timestamp)
	if err := os.Remove(path); err != nil {
		fail(c, http.StatusNotFound, "replay-not-found")
		return
	}
	ok(c, nil)
}

// replayFileQuery validates the download query parameters and the session
// token they ride with.
func (s *Server) replayFileQuery(c *gin.Context) (userID, chartID int32, timestamp int64, valid bool) {
	userID, err := s.replaySessions.Verify(c.Query("sessionToken"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid-session")
		return 0, 0, 0, false
	}
	chart, err := strconv.ParseInt(c.Query("chartId"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid-chart-id")
		return 0, 0, 0, false
	}
	timestamp, err = strconv.ParseInt(c.Query("timestamp"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid-timestamp")
		return 0, 0, 0, false
	}
	return userID, int32(chart), timestamp, true
}
