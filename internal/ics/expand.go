package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "weekcal/internal/log"
	"weekcal/internal/model"
)

const defaultMaxPerEvent = 5000

// Window bounds an expansion. Occurrences overlapping [From, To] are kept
// and converted to Loc.
type Window struct {
	Loc  *time.Location
	From time.Time
	To   time.Time
	// MaxPerEvent caps occurrences of one recurring event. Zero means 5000.
	MaxPerEvent int
}

// Expansion is the result of Expand.
type Expansion struct {
	Occurrences []model.Occurrence
	// Truncated lists UIDs that hit MaxPerEvent.
	Truncated []string
}

// Expand turns parsed events into concrete occurrences inside w. It honors
// RRULE, EXDATE and RECURRENCE-ID overrides. Occurrences are sorted by
// start time.
func Expand(events []Event, w Window) (Expansion, error) {
	var res Expansion
	if w.To.Before(w.From) {
		return res, errors.New("ics: window ends before it starts")
	}
	if w.Loc == nil {
		w.Loc = time.Local
	}
	if w.MaxPerEvent <= 0 {
		w.MaxPerEvent = defaultMaxPerEvent
	}

	bases := make(map[string][]Event)
	overrides := make(map[string][]Event)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	for _, uid := range uids {
		capped := false
		for _, ev := range bases[uid] {
			occ, hit := expandEvent(ev, overrides[uid], w)
			capped = capped || hit
			res.Occurrences = append(res.Occurrences, occ...)
		}
		if capped {
			res.Truncated = append(res.Truncated, uid)
			appLog.Error("ics expand truncated", errors.New("occurrence cap reached"),
				"uid", uid, "cap", w.MaxPerEvent)
		}
	}

	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		return res.Occurrences[i].Start.Before(res.Occurrences[j].Start)
	})
	return res, nil
}

func expandEvent(ev Event, overrides []Event, w Window) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		if !overlaps(ev.Start, ev.End, w.From, w.To) {
			return nil, false
		}
		if o, ok := overrideFor(overrides, ev.Start); ok {
			ev = o
		}
		return []model.Occurrence{occurrence(ev, ev.Start, ev.End, false, w.Loc)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Start the search one duration early so instances already running at
	// w.From are included.
	from := w.From.Add(-dur).In(ev.Start.Location())
	to := w.To.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	hit := false
	if len(starts) > w.MaxPerEvent {
		starts = starts[:w.MaxPerEvent]
		hit = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		e := s.Add(dur)
		if ev.AllDay {
			y, m, d := s.Date()
			s = time.Date(y, m, d, 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, int(dur/(24*time.Hour)))
			if !e.After(s) {
				e = s.AddDate(0, 0, 1)
			}
		}
		inst := ev
		if o, ok := overrideFor(overrides, s); ok {
			inst, s, e = o, o.Start, o.End
		}
		if !overlaps(s, e, w.From, w.To) {
			continue
		}
		out = append(out, occurrence(inst, s, e, true, w.Loc))
	}
	return out, hit
}

func overrideFor(overrides []Event, start time.Time) (Event, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return Event{}, false
}

func occurrence(ev Event, start, end time.Time, recurring bool, loc *time.Location) model.Occurrence {
	start, end = start.In(loc), end.In(loc)
	return model.Occurrence{
		SourceID:    ev.Source.Key(),
		UID:         ev.UID,
		InstanceKey: start.UTC().Format(time.RFC3339),
		Recurring:   recurring,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Category:    ev.Category,
		Color:       ev.Color,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
