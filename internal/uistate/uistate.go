// Package uistate holds the navigation state of the client: which sidebar
// panel is open, which week is displayed and the color picked for new
// events. It is never persisted.
package uistate

import (
	"sync"
	"time"
)

// DefaultColor is preselected for newly created events.
const DefaultColor = "#eeeaff"

// Sidebar panels.
const (
	PanelNone     = ""
	PanelCalendar = "calendar"
	PanelAI       = "ai"
	PanelGoals    = "goals"
	PanelSettings = "settings"
)

// State is a point-in-time copy of the navigation state.
type State struct {
	SelectedPanel     string    `json:"selectedPanel"`
	LastSelectedPanel string    `json:"lastSelectedPanel"`
	SidebarOpen       bool      `json:"sidebarOpen"`
	CurrentWeek       time.Time `json:"currentWeek"`
	SelectedColor     string    `json:"selectedColor"`
}

// UI is safe for concurrent use.
type UI struct {
	mu sync.RWMutex
	st State
}

// New starts on the week containing now with the sidebar closed.
func New(now time.Time) *UI {
	return &UI{st: State{
		CurrentWeek:   now,
		SelectedColor: DefaultColor,
	}}
}

// Snapshot returns the current state.
func (u *UI) Snapshot() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.st
}

// SelectPanel opens the sidebar on panel and remembers it.
func (u *UI) SelectPanel(panel string) State {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.SelectedPanel = panel
	if panel != PanelNone {
		u.st.LastSelectedPanel = panel
	}
	u.st.SidebarOpen = panel != PanelNone
	return u.st
}

// SetSidebarOpen opens or closes the sidebar. Reopening restores the panel
// that was selected before it was closed.
func (u *UI) SetSidebarOpen(open bool) State {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.SidebarOpen = open
	if open {
		if u.st.SelectedPanel == PanelNone {
			u.st.SelectedPanel = u.st.LastSelectedPanel
		}
	} else {
		u.st.SelectedPanel = PanelNone
	}
	return u.st
}

// CloseSidebar is SetSidebarOpen(false).
func (u *UI) CloseSidebar() State { return u.SetSidebarOpen(false) }

// ToggleSidebar flips the sidebar.
func (u *UI) ToggleSidebar() State {
	u.mu.RLock()
	open := u.st.SidebarOpen
	u.mu.RUnlock()
	return u.SetSidebarOpen(!open)
}

// PrevWeek moves the anchor back seven days.
func (u *UI) PrevWeek() State { return u.shiftWeek(-7) }

// NextWeek moves the anchor forward seven days.
func (u *UI) NextWeek() State { return u.shiftWeek(7) }

func (u *UI) shiftWeek(days int) State {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.CurrentWeek = u.st.CurrentWeek.AddDate(0, 0, days)
	return u.st
}

// SetWeek jumps to the week containing t.
func (u *UI) SetWeek(t time.Time) State {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.CurrentWeek = t
	return u.st
}

// SetSelectedColor sets the color used for new events; "" restores the default.
func (u *UI) SetSelectedColor(c string) State {
	u.mu.Lock()
	defer u.mu.Unlock()
	if c == "" {
		c = DefaultColor
	}
	u.st.SelectedColor = c
	return u.st
}
