package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rhyline/rhyline-server/internal/v1/room"
)

// playerInfo is one room member in the public listing.
type playerInfo struct {
	ID        int32  `json:"id"`
	Name      string `json:"name"`
	IsMonitor bool   `json:"isMonitor"`
}

// roomSummary is the public projection of one room.
type roomSummary struct {
	ID              string       `json:"id"`
	State           string       `json:"state"`
	HostID          int32        `json:"hostId"`
	HostName        string       `json:"hostName"`
	PlayerCount     int          `json:"playerCount"`
	MonitorCount    int          `json:"monitorCount"`
	IsLocked        bool         `json:"isLocked"`
	IsCycle         bool         `json:"isCycle"`
	IsLive          bool         `json:"isLive"`
	IsRecruiting    bool         `json:"isRecruiting"`
	SelectedChartID *int32       `json:"selectedChartId"`
	Players         []playerInfo `json:"players"`
}

func summarize(snap room.Snapshot) roomSummary {
	out := roomSummary{
		ID:           snap.ID,
		State:        snap.Stage.String(),
		HostID:       snap.HostID,
		HostName:     snap.HostName,
		PlayerCount:  len(snap.Players),
		MonitorCount: len(snap.Monitors),
		IsLocked:     snap.Locked,
		IsCycle:      snap.Cycle,
		IsLive:       snap.Live,
		IsRecruiting: snap.Recruiting,
		Players:      []playerInfo{},
	}
	if snap.Chart != nil {
		id := snap.Chart.ID
		out.SelectedChartID = &id
	}
	for _, p := range snap.Players {
		out.Players = append(out.Players, playerInfo{ID: p.ID, Name: p.Name})
	}
	for _, m := range snap.Monitors {
		out.Players = append(out.Players, playerInfo{ID: m.ID, Name: m.Name, IsMonitor: true})
	}
	return out
}

// listRooms handles GET /rooms (also reused for GET /admin/rooms).
func (s *Server) listRooms(c *gin.Context) {
	snaps := s.hub.Snapshots()
	rooms := make([]roomSummary, 0, len(snaps))
	for _, snap := range snaps {
		rooms = append(rooms, summarize(snap))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(rooms), "rooms": rooms})
}

// compatUser mirrors the legacy listing's {name, id} ordering.
type compatUser struct {
	Name string `json:"name"`
	ID   int32  `json:"id"`
}

type compatChart struct {
	Name string `json:"name"`
	ID   int32  `json:"id"`
}

type compatRoom struct {
	RoomID  string       `json:"roomid"`
	Cycle   bool         `json:"cycle"`
	Lock    bool         `json:"lock"`
	Host    compatUser   `json:"host"`
	State   string       `json:"state"`
	Chart   *compatChart `json:"chart"`
	Players []compatUser `json:"players"`
}

// listRoomsCompat handles GET /room, the listing shape older clients expect.
func (s *Server) listRoomsCompat(c *gin.Context) {
	snaps := s.hub.Snapshots()
	rooms := make([]compatRoom, 0, len(snaps))
	for _, snap := range snaps {
		out := compatRoom{
			RoomID:  snap.ID,
			Cycle:   snap.Cycle,
			Lock:    snap.Locked,
			Host:    compatUser{Name: snap.HostName, ID: snap.HostID},
			State:   snap.Stage.String(),
			Players: []compatUser{},
		}
		if snap.Chart != nil {
			name := snap.Chart.Name
			if name == "" {
				name = s.identity.ChartName(c.Request.Context(), snap.Chart.ID)
			}
			out.Chart = &compatChart{Name: name, ID: snap.Chart.ID}
		}
		for _, p := range snap.Players {
			out.Players = append(out.Players, compatUser{Name: p.Name, ID: p.ID})
		}
		rooms = append(rooms, out)
	}
	c.JSON(http.StatusOK, gin.H{"total": len(rooms), "rooms": rooms})
}

// status handles GET /status.
func (s *Server) status(c *gin.Context) {
	st := s.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"serverName":   s.cfg.ServerName,
		"version":      Version,
		"uptime":       fmt.Sprintf("%.0fs", st.Uptime.Seconds()),
		"roomCount":    st.RoomCount,
		"sessionCount": st.SessionCount,
		"userCount":    st.UserCount,
	})
}
