// Package weekgrid turns sub schedules and a week anchor into per-day
// geometry for a seven column, 24 hour grid. Everything here is a pure
// function of its inputs.
package weekgrid

import (
	"fmt"
	"strconv"
	"time"

	"weekcal/internal/model"
)

const (
	// DaysPerWeek is the number of grid columns. Column 0 is Monday.
	DaysPerWeek = 7

	dayNanos = float64(24 * time.Hour)
)

// ColumnWidth is the width of a day column in percent.
const ColumnWidth = 100.0 / DaysPerWeek

// Span is a half-open interval [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// Segment is the piece of one event that falls on a single day.
type Segment struct {
	Key        string `json:"key"`
	EventIndex int    `json:"eventIndex"`

	ID                string    `json:"id"`
	MainScheduleTitle string    `json:"mainScheduleTitle"`
	SubScheduleTitle  string    `json:"subScheduleTitle"`
	Description       string    `json:"description,omitempty"`
	Color             string    `json:"color"`
	Status            string    `json:"status"`
	EventStart        time.Time `json:"eventStart"`
	EventEnd          time.Time `json:"eventEnd"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Column        int     `json:"column"`
	TopPercent    float64 `json:"topPercent"`
	HeightPercent float64 `json:"heightPercent"`
	LeftPercent   float64 `json:"leftPercent"`
	WidthPercent  float64 `json:"widthPercent"`
}

// Diagnostic describes an event that was skipped.
type Diagnostic struct {
	EventIndex int    `json:"eventIndex"`
	ID         string `json:"id,omitempty"`
	Reason     string `json:"reason"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("event %d (%s): %s", d.EventIndex, d.ID, d.Reason)
}

// Options tune Layout.
type Options struct {
	// Now decides each segment's status. Zero means time.Now().
	Now time.Time
	// OnDiagnostic, if set, is called for every skipped event in order.
	OnDiagnostic func(Diagnostic)
	// MainTitle, if set, resolves the group title shown on a segment.
	// Without it the event's own MainScheduleTitle is used.
	MainTitle func(model.SubSchedule) string
}

// Result is the renderable week.
type Result struct {
	WeekStart   time.Time    `json:"weekStart"`
	WeekEnd     time.Time    `json:"weekEnd"`
	Days        []time.Time  `json:"days"`
	Segments    []Segment    `json:"segments"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// WeekBounds returns Monday 00:00 of anchor's week and the following
// Sunday 23:59:59.999999999, both in anchor's location.
func WeekBounds(anchor time.Time) (time.Time, time.Time) {
	day := startOfDay(anchor)
	start := day.AddDate(0, 0, -ColumnIndex(anchor))
	end := start.AddDate(0, 0, DaysPerWeek).Add(-time.Nanosecond)
	return start, end
}

// Overlaps is the inclusive interval test used to pick a week's events.
func Overlaps(start, end, weekStart, weekEnd time.Time) bool {
	return !start.After(weekEnd) && !end.Before(weekStart)
}

// ColumnIndex maps t's weekday to a column, Monday=0 through Sunday=6.
func ColumnIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// FilterWeek returns the indexes of events that overlap anchor's week.
// Events with unusable timestamps are never returned.
func FilterWeek(events []model.SubSchedule, anchor time.Time) []int {
	ws, we := WeekBounds(anchor)
	var out []int
	for i, ev := range events {
		if usable(ev) != "" {
			continue
		}
		if Overlaps(ev.StartTime, ev.EndTime, ws, we) {
			out = append(out, i)
		}
	}
	return out
}

// SplitByDay cuts [start, end) at every midnight of start's location. A
// zero-length interval yields a single zero-length span.
func SplitByDay(start, end time.Time) []Span {
	if end.Equal(start) {
		return []Span{{Start: start, End: end}}
	}
	var spans []Span
	for cur := start; cur.Before(end); {
		next := startOfDay(cur).AddDate(0, 0, 1)
		if next.After(end) {
			next = end
		}
		spans = append(spans, Span{Start: cur, End: next})
		cur = next
	}
	return spans
}

// Layout computes the segments of anchor's week, in the anchor's location.
// Only segments that start inside the week are kept, so events reaching
// over the week edges are clipped to their visible days.
func Layout(events []model.SubSchedule, anchor time.Time, opts Options) Result {
	loc := anchor.Location()
	ws, we := WeekBounds(anchor)
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	res := Result{
		WeekStart:   ws,
		WeekEnd:     we,
		Days:        make([]time.Time, DaysPerWeek),
		Segments:    []Segment{},
		Diagnostics: []Diagnostic{},
	}
	for i := range res.Days {
		res.Days[i] = ws.AddDate(0, 0, i)
	}

	for i, ev := range events {
		if reason := usable(ev); reason != "" {
			d := Diagnostic{EventIndex: i, ID: ev.ID, Reason: reason}
			res.Diagnostics = append(res.Diagnostics, d)
			if opts.OnDiagnostic != nil {
				opts.OnDiagnostic(d)
			}
			continue
		}
		start, end := ev.StartTime.In(loc), ev.EndTime.In(loc)
		if !Overlaps(start, end, ws, we) {
			continue
		}
		status := ev.Status(now)
		mainTitle := ev.MainScheduleTitle
		if opts.MainTitle != nil {
			mainTitle = opts.MainTitle(ev)
		}
		for _, sp := range SplitByDay(start, end) {
			if sp.Start.Before(ws) || sp.Start.After(we) {
				continue
			}
			top, height := geometry(sp)
			col := ColumnIndex(sp.Start)
			res.Segments = append(res.Segments, Segment{
				Key:               strconv.Itoa(i) + "-" + sp.Start.Format(time.RFC3339Nano),
				EventIndex:        i,
				ID:                ev.ID,
				MainScheduleTitle: mainTitle,
				SubScheduleTitle:  ev.SubScheduleTitle,
				Description:       ev.Description,
				Color:             ev.Color,
				Status:            status,
				EventStart:        start,
				EventEnd:          end,
				Start:             sp.Start,
				End:               sp.End,
				Column:            col,
				TopPercent:        top,
				HeightPercent:     height,
				LeftPercent:       float64(col) * ColumnWidth,
				WidthPercent:      ColumnWidth,
			})
		}
	}
	return res
}

// ParseTimestamp accepts the timestamp shapes the backend and forms send.
// Values without an offset are read in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("weekgrid: unrecognized timestamp %q", s)
}

func usable(ev model.SubSchedule) string {
	switch {
	case ev.StartTime.IsZero():
		return "missing start time"
	case ev.EndTime.IsZero():
		return "missing end time"
	case ev.EndTime.Before(ev.StartTime):
		return "end time before start time"
	}
	return ""
}

// geometry places a single-day span by wall clock so DST days still fit
// into 0..100.
func geometry(sp Span) (top, height float64) {
	day := startOfDay(sp.Start)
	from := wallOffset(sp.Start)
	to := wallOffset(sp.End)
	if !sp.End.Equal(sp.Start) && !sameDay(sp.End, day) {
		to = dayNanos
	}
	top = from / dayNanos * 100
	height = (to - from) / dayNanos * 100
	if height < 0 {
		height = 0
	}
	return top, height
}

func wallOffset(t time.Time) float64 {
	h, m, s := t.Clock()
	return float64(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(t, day time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
