package replay

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
)

// RetentionAge is how long replay files are kept.
const RetentionAge = 4 * 24 * time.Hour

// sweepInterval is how often the retention sweep runs.
const sweepInterval = 24 * time.Hour

// Sweep deletes replay files whose filename timestamp is older than
// now-RetentionAge, then prunes directories left empty.
func Sweep(baseDir string, now time.Time) {
	cutoff := now.Add(-RetentionAge).UnixMilli()
	removed := 0

	_ = filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), FileExt) {
			return nil
		}
		ts, perr := strconv.ParseInt(strings.TrimSuffix(d.Name(), FileExt), 10, 64)
		if perr != nil {
			return nil // not one of ours
		}
		if ts < cutoff {
			if rerr := os.Remove(path); rerr == nil {
				removed++
			}
		}
		return nil
	})

	pruneEmptyDirs(baseDir)

	if removed > 0 {
		logging.Info(context.Background(), "replay retention sweep finished",
			zap.Int("removed", removed))
	}
}

// StartSweeper runs Sweep once immediately and then daily until ctx ends.
func StartSweeper(ctx context.Context, baseDir string) {
	go func() {
		Sweep(baseDir, time.Now())
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				Sweep(baseDir, now)
			}
		}
	}()
}

// pruneEmptyDirs removes empty chart and user directories under baseDir.
// baseDir itself is kept.
func pruneEmptyDirs(baseDir string) {
	users, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}
	for _, user := range users {
		if !user.IsDir() {
			continue
		}
		userDir := filepath.Join(baseDir, user.Name())
		charts, err := os.ReadDir(userDir)
		if err != nil {
			continue
		}
		for _, chart := range charts {
			if chart.IsDir() {
				// Remove fails on non-empty dirs, which is exactly what we want.
				_ = os.Remove(filepath.Join(userDir, chart.Name()))
			}
		}
		_ = os.Remove(userDir)
	}
}
