package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cin-tie/remote-shell/internal/cli/timeutil"
	"github.com/cin-tie/remote-shell/pkg/api/handlers"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// SessionList renders connected sessions. JSON and YAML output encode the
// underlying slice.
type SessionList struct {
	Sessions []session.Info
	Now      time.Time
}

// NewSessionList snapshots sessions against the current time.
func NewSessionList(sessions []session.Info) SessionList {
	return SessionList{Sessions: sessions, Now: time.Now()}
}

func (l SessionList) Headers() []string {
	return []string{"Username", "Full Name", "Transport", "Remote", "Directory", "Connected", "Idle"}
}

func (l SessionList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Sessions))
	for _, s := range l.Sessions {
		rows = append(rows, []string{
			s.Username,
			s.FullName,
			strings.ToUpper(s.Transport),
			s.RemoteAddr,
			s.CurrentDir,
			timeutil.FormatSince(s.ConnectedAt, l.Now),
			timeutil.FormatSince(s.LastActivity, l.Now),
		})
	}
	return rows
}

// MarshalJSON encodes the sessions only.
func (l SessionList) MarshalJSON() ([]byte, error) {
	return marshalJSON(l.Sessions)
}

// MarshalYAML encodes the sessions only.
func (l SessionList) MarshalYAML() (any, error) {
	return l.Sessions, nil
}

// Usernames formats the active user line of the operator console.
func Usernames(names []string) string {
	if len(names) == 0 {
		return "No active users"
	}
	return "Active users: " + strings.Join(names, ", ")
}

// Connections formats the connection count line of the operator console.
func Connections(active, max int) string {
	return fmt.Sprintf("Total connections: %d/%d", active, max)
}

// StatusPairs summarizes server statistics for SimpleTable.
func StatusPairs(s handlers.Stats, now time.Time) [][2]string {
	transports := make([]string, 0, len(s.Transports))
	for _, t := range s.Transports {
		transports = append(transports, t.Protocol+":"+strconv.Itoa(t.Port))
	}
	listening := strings.Join(transports, ", ")
	if listening == "" {
		listening = "none"
	}

	return [][2]string{
		{"Started", timeutil.FormatTime(s.StartedAt)},
		{"Uptime", timeutil.FormatSince(s.StartedAt, now)},
		{"Connections", fmt.Sprintf("%d/%d", s.ActiveSessions, s.MaxUsers)},
		{"Total logins", strconv.FormatInt(s.TotalRegistrations, 10)},
		{"Transports", listening},
	}
}
