package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"weekcal/internal/model"
)

// Export renders subs as a VCALENDAR. Each sub schedule becomes a VEVENT
// whose UID is the sub schedule id and whose CATEGORIES carries the goal
// title, so Import can restore the grouping.
func Export(name string, mains []model.MainSchedule, subs []model.SubSchedule, now time.Time) string {
	titles := make(map[int]string, len(mains))
	for _, ms := range mains {
		titles[ms.ID] = ms.Title
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//weekcal//weekcal//KO")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, sub := range subs {
		ev := cal.AddEvent(sub.ID)
		ev.SetDtStampTime(now.UTC())
		ev.SetStartAt(sub.StartTime.UTC())
		ev.SetEndAt(sub.EndTime.UTC())
		ev.SetSummary(sub.SubScheduleTitle)
		if sub.Description != "" {
			ev.SetDescription(sub.Description)
		}
		title := sub.MainScheduleTitle
		if t, ok := titles[sub.MainScheduleID]; ok {
			title = t
		}
		if title != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, title)
		}
		if sub.Color != "" {
			ev.SetProperty(propColor, sub.Color)
		}
	}
	return cal.Serialize()
}

// ImportOptions control how occurrences become sub schedules.
type ImportOptions struct {
	// MainTitle files every event under this goal. When empty, the event's
	// CATEGORIES is used, then model.DefaultMainTitle.
	MainTitle string
	// Color is used for events that carry none.
	Color string
}

var feedNamespace = uuid.MustParse("0b8f5a2e-7c1d-4e0a-b6a9-5d3c2f1e9a47")

// ToSubSchedules converts occurrences into sub schedules.
//
// Non-recurring events from a one-off import keep their UID as id, so
// re-importing an export is idempotent. Everything else gets an id derived
// from source, UID and instance, stable across refreshes.
func ToSubSchedules(occs []model.Occurrence, opts ImportOptions) []model.SubSchedule {
	out := make([]model.SubSchedule, 0, len(occs))
	for _, o := range occs {
		id := o.UID
		if o.Recurring || o.SourceID != "" {
			key := strings.Join([]string{o.SourceID, o.UID, o.InstanceKey}, "\x00")
			id = uuid.NewSHA1(feedNamespace, []byte(key)).String()
		}

		title := opts.MainTitle
		if title == "" {
			title = o.Category
		}
		if title == "" {
			title = model.DefaultMainTitle
		}
		color := o.Color
		if color == "" {
			color = opts.Color
		}
		summary := o.Summary
		if summary == "" {
			summary = "(제목 없음)"
		}

		out = append(out, model.SubSchedule{
			ID:                id,
			MainScheduleTitle: title,
			SubScheduleTitle:  summary,
			StartTime:         o.Start,
			EndTime:           o.End,
			Description:       o.Description,
			Color:             color,
			Source:            o.SourceID,
		})
	}
	return out
}
