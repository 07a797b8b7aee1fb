package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL bounds a replay download session.
const SessionTTL = 30 * time.Minute

// DownloadRate throttles replay downloads.
const DownloadRate = 50 * 1024 // bytes per second

// ErrInvalidSession is returned for missing, malformed, or expired session
// tokens.
var ErrInvalidSession = errors.New("replay: invalid session token")

// Sessions issues and verifies replay download session tokens. Tokens are
// short-lived HMAC JWTs carrying the user id, so no server-side table is
// needed.
type Sessions struct {
	secret []byte
}

// NewSessions creates a session issuer with the given signing secret.
func NewSessions(secret []byte) *Sessions {
	return &Sessions{secret: secret}
}

// Issue returns a session token for userID, valid for SessionTTL.
func (s *Sessions) Issue(userID int32) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(int64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
	})
	return tok.SignedString(s.secret)
}

// Verify parses a session token and returns the user id it was issued for.
func (s *Sessions) Verify(token string) (int32, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidSession
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	id, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil {
		return 0, ErrInvalidSession
	}
	return int32(id), nil
}

// FileInfo describes one stored replay file.
type FileInfo struct {
	Timestamp int64 `json:"timestamp"`
	Size      int64 `json:"size"`
}

// ListFiles returns the user's replay files grouped by chart id.
func ListFiles(baseDir string, userID int32) (map[int32][]FileInfo, error) {
	userDir := filepath.Join(baseDir, strconv.FormatInt(int64(userID), 10))
	charts, err := os.ReadDir(userDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int32][]FileInfo{}, nil
		}
		return nil, err
	}

	out := make(map[int32][]FileInfo)
	for _, chart := range charts {
		if !chart.IsDir() {
			continue
		}
		chartID, err := strconv.ParseInt(chart.Name(), 10, 32)
		if err != nil {
			continue
		}
		files, err := os.ReadDir(filepath.Join(userDir, chart.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), FileExt) {
				continue
			}
			ts, err := strconv.ParseInt(strings.TrimSuffix(f.Name(), FileExt), 10, 64)
			if err != nil {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			out[int32(chartID)] = append(out[int32(chartID)], FileInfo{Timestamp: ts, Size: info.Size()})
		}
	}
	return out, nil
}

// FilePath resolves the on-disk path of one replay file.
func FilePath(baseDir string, userID, chartID int32, timestamp int64) string {
	return filepath.Join(baseDir,
		strconv.FormatInt(int64(userID), 10),
		strconv.FormatInt(int64(chartID), 10),
		strconv.FormatInt(timestamp, 10)+FileExt)
}

// ThrottledReader wraps r and limits reads to DownloadRate bytes per second.
type ThrottledReader struct {
	r       io.Reader
	start   time.Time
	written int64
}

// NewThrottledReader wraps r with the download rate limit.
func NewThrottledReader(r io.Reader) *ThrottledReader {
	return &ThrottledReader{r: r, start: time.Now()}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	// Cap each chunk so the sleep granularity stays small.
	if len(p) > DownloadRate/10 {
		p = p[:DownloadRate/10]
	}
	n, err := t.r.Read(p)
	t.written += int64(n)
	ahead := time.Duration(t.written)*time.Second/DownloadRate - time.Since(t.start)
	if ahead > 0 {
		time.Sleep(ahead)
	}
	return n, err
}
