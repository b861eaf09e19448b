package model

import "time"

// DefaultMainTitle is shown for sub-schedules whose main schedule is unset
// or no longer exists.
const DefaultMainTitle = "기본일정"

// Status labels derived from a sub-schedule's end time.
const (
	StatusInProgress = "진행중"
	StatusPast       = "지난 일정"
)

// MainSchedule is a goal/category grouping sub-schedules over an active window.
type MainSchedule struct {
	ID        int       `json:"main_schedule_id"`
	OwnerID   string    `json:"user_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubSchedule is a concrete calendar event.
//
// MainScheduleID is the explicit reference; MainScheduleTitle is kept
// because the backend addresses groups by title. Either may dangle.
type SubSchedule struct {
	ID                string    `json:"id"`
	MainScheduleID    int       `json:"main_schedule_id,omitempty"`
	MainScheduleTitle string    `json:"mainScheduleTitle"`
	SubScheduleTitle  string    `json:"subScheduleTitle"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Description       string    `json:"description,omitempty"`
	Color             string    `json:"color"`
	// Source is the subscribed feed that owns this entry; empty for
	// entries created locally or pulled from the backend.
	Source string `json:"source,omitempty"`
}

// Status reports whether the sub-schedule is still in progress at now.
func (s SubSchedule) Status(now time.Time) string {
	if !s.EndTime.Before(now) {
		return StatusInProgress
	}
	return StatusPast
}

// Occurrence is one concrete instance of an imported calendar event, after
// recurrence expansion and conversion to the display timezone.
type Occurrence struct {
	SourceID string
	UID      string
	// InstanceKey tells occurrences of the same recurring UID apart.
	InstanceKey string
	Recurring   bool

	Summary     string
	Description string
	Location    string
	Category    string // first CATEGORIES value, the goal title on export
	Color       string

	AllDay bool
	Start  time.Time
	End    time.Time
}
