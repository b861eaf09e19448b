package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"weekcal/internal/model"
)

// Task is one suggested block within a day. Times are wall clock "HH:MM".
type Task struct {
	MainScheduleTitle string `json:"mainScheduleTitle"`
	SubScheduleTitle  string `json:"subScheduleTitle"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	Description       string `json:"description,omitempty"`
	Color             string `json:"color,omitempty"`
}

// DayPlan is the suggested tasks of one day.
type DayPlan struct {
	DayName string `json:"dayName"`
	Tasks   []Task `json:"tasks"`
}

// Suggestion is a generated schedule awaiting the user's decision.
type Suggestion struct {
	Days []DayPlan `json:"days"`
}

// DecodeSuggestion accepts the shapes the backend has been seen to send:
// an array of day plans, an object with "days", or either encoded as a
// JSON string.
func DecodeSuggestion(raw json.RawMessage) (Suggestion, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return Suggestion{}, errors.New("ai: empty schedule")
	}
	switch raw[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Suggestion{}, fmt.Errorf("ai: decode schedule: %w", err)
		}
		return DecodeSuggestion(json.RawMessage(inner))
	case '[':
		var days []DayPlan
		if err := json.Unmarshal(raw, &days); err != nil {
			return Suggestion{}, fmt.Errorf("ai: decode schedule: %w", err)
		}
		return Suggestion{Days: days}, nil
	default:
		var s Suggestion
		if err := json.Unmarshal(raw, &s); err != nil {
			return Suggestion{}, fmt.Errorf("ai: decode schedule: %w", err)
		}
		return s, nil
	}
}

// Encode renders s in the array form the backend expects back on re-request.
func (s Suggestion) Encode() (json.RawMessage, error) {
	days := s.Days
	if days == nil {
		days = []DayPlan{}
	}
	return json.Marshal(days)
}

// Recolor returns a copy of s with every task set to color.
func Recolor(s Suggestion, color string) Suggestion {
	out := Suggestion{Days: make([]DayPlan, len(s.Days))}
	for i, d := range s.Days {
		tasks := make([]Task, len(d.Tasks))
		for j, t := range d.Tasks {
			t.Color = color
			tasks[j] = t
		}
		out.Days[i] = DayPlan{DayName: d.DayName, Tasks: tasks}
	}
	return out
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday, "일요일": time.Sunday, "일": time.Sunday,
	"monday": time.Monday, "mon": time.Monday, "월요일": time.Monday, "월": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "화요일": time.Tuesday, "화": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday, "수요일": time.Wednesday, "수": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "목요일": time.Thursday, "목": time.Thursday,
	"friday": time.Friday, "fri": time.Friday, "금요일": time.Friday, "금": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday, "토요일": time.Saturday, "토": time.Saturday,
}

func parseWeekday(name string) (time.Weekday, bool) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	return wd, ok
}

// Materialize turns s into concrete sub schedules for every day in
// [from, to], evaluated in loc. When the day plans are named by weekday,
// each day gets the plan of its weekday; otherwise plans are used in
// order and wrap around. A task whose end is not after its start ends on
// the following day. Only tasks starting inside [from, to] are kept.
//
// Tasks with unreadable times are left out and reported in the returned
// error; the rest are still returned.
func Materialize(s Suggestion, from, to time.Time, loc *time.Location) ([]model.SubSchedule, error) {
	if loc == nil {
		loc = time.Local
	}
	if to.Before(from) {
		return nil, errors.New("ai: end of range before start")
	}
	if len(s.Days) == 0 {
		return nil, nil
	}

	from, to = from.In(loc), to.In(loc)
	y, m, d := from.Date()
	first := time.Date(y, m, d, 0, 0, 0, 0, loc)

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: first,
		Until:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("ai: build day rule: %w", err)
	}

	byWeekday := make(map[time.Weekday]DayPlan)
	for _, p := range s.Days {
		wd, ok := parseWeekday(p.DayName)
		if !ok {
			byWeekday = nil
			break
		}
		if _, dup := byWeekday[wd]; !dup {
			byWeekday[wd] = p
		}
	}

	var (
		out  []model.SubSchedule
		errs []error
	)
	for i, day := range r.All() {
		day = day.In(loc)
		var plan DayPlan
		if byWeekday != nil {
			p, ok := byWeekday[day.Weekday()]
			if !ok {
				continue
			}
			plan = p
		} else {
			plan = s.Days[i%len(s.Days)]
		}

		for _, t := range plan.Tasks {
			start, err := atClock(day, t.StartTime, loc)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %q start: %w", day.Format("2006-01-02"), t.SubScheduleTitle, err))
				continue
			}
			end, err := atClock(day, t.EndTime, loc)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %q end: %w", day.Format("2006-01-02"), t.SubScheduleTitle, err))
				continue
			}
			if !end.After(start) {
				end = end.AddDate(0, 0, 1)
			}
			if start.Before(from) || start.After(to) {
				continue
			}
			title := strings.TrimSpace(t.MainScheduleTitle)
			if title == "" {
				title = model.DefaultMainTitle
			}
			out = append(out, model.SubSchedule{
				MainScheduleTitle: title,
				SubScheduleTitle:  t.SubScheduleTitle,
				StartTime:         start,
				EndTime:           end,
				Description:       t.Description,
				Color:             t.Color,
			})
		}
	}
	return out, errors.Join(errs...)
}

func atClock(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	c, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc), nil
}
