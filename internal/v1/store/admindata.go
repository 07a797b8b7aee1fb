// Package store persists the admin ban tables: a global user ban list and
// per-room ban lists, kept in one JSON file that is rewritten whole on every
// mutation.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
)

type fileImage struct {
	UserBans []int64            `json:"userBans"`
	RoomBans map[string][]int64 `json:"roomBans"`
}

// AdminData is the in-memory ban state with its backing file. Save failures
// are logged; the in-memory state still reflects the mutation.
type AdminData struct {
	path string

	mu       sync.Mutex
	userBans set.Set[int64]
	roomBans map[string]set.Set[int64]
}

// Load reads the ban tables from path. A missing file yields empty tables.
func Load(path string) (*AdminData, error) {
	d := &AdminData{
		path:     path,
		userBans: set.New[int64](),
		roomBans: map[string]set.Set[int64]{},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	var img fileImage
	if err := json.Unmarshal(raw, &img); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	d.userBans = set.New(img.UserBans...)
	for room, ids := range img.RoomBans {
		d.roomBans[room] = set.New(ids...)
	}
	return d, nil
}

// BanUser adds or removes a global user ban and persists.
func (d *AdminData) BanUser(userID int64, banned bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if banned {
		d.userBans.Insert(userID)
	} else {
		d.userBans.Delete(userID)
	}
	d.saveLocked()
}

// IsUserBanned reports whether userID is globally banned.
func (d *AdminData) IsUserBanned(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userBans.Has(userID)
}

// BanFromRoom adds or removes a per-room ban and persists.
func (d *AdminData) BanFromRoom(roomID string, userID int64, banned bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bans, ok := d.roomBans[roomID]
	if !ok {
		if !banned {
			return
		}
		bans = set.New[int64]()
		d.roomBans[roomID] = bans
	}
	if banned {
		bans.Insert(userID)
	} else {
		bans.Delete(userID)
		if bans.Len() == 0 {
			delete(d.roomBans, roomID)
		}
	}
	d.saveLocked()
}

// IsBannedFromRoom reports whether userID is banned from roomID.
func (d *AdminData) IsBannedFromRoom(roomID string, userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	bans, ok := d.roomBans[roomID]
	return ok && bans.Has(userID)
}

// UserBans returns the global ban list, sorted.
func (d *AdminData) UserBans() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userBans.SortedList()
}

// RoomBans returns the per-room bans of one room, sorted.
func (d *AdminData) RoomBans(roomID string) []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	bans, ok := d.roomBans[roomID]
	if !ok {
		return nil
	}
	return bans.SortedList()
}

// saveLocked writes the whole image atomically: temp file in the same
// directory, then rename over the target.
func (d *AdminData) saveLocked() {
	img := fileImage{
		UserBans: d.userBans.SortedList(),
		RoomBans: map[string][]int64{},
	}
	if img.UserBans == nil {
		img.UserBans = []int64{}
	}
	rooms := make([]string, 0, len(d.roomBans))
	for room := range d.roomBans {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		img.RoomBans[room] = d.roomBans[room].SortedList()
	}

	raw, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		logging.Error(context.Background(), "admin data marshal failed", zap.Error(err))
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".admin_data-*.json")
	if err != nil {
		logging.Error(context.Background(), "admin data temp file failed", zap.Error(err))
		return
	}
	if _, err := tmp.Write(raw); err == nil {
		err = tmp.Close()
		if err == nil {
			err = os.Rename(tmp.Name(), d.path)
		}
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		logging.Error(context.Background(), "admin data save failed",
			zap.String("path", d.path), zap.Error(err))
	}
}
