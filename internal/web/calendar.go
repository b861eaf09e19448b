package web

import (
	"io"
	"net/http"
	"time"

	"weekcal/internal/ics"
	appLog "weekcal/internal/log"
	"weekcal/internal/model"
)

// handleExportICS downloads every sub schedule as an iCalendar file.
func (s *Server) handleExportICS(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export("weekcal", s.store.MainSchedules(), s.store.SubSchedules(), s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="weekcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

type importResponse struct {
	Imported  int      `json:"imported"`
	Created   []string `json:"createdMainSchedules,omitempty"`
	Truncated []string `json:"truncated,omitempty"`
}

// handleImportICS merges an uploaded iCalendar body into the store.
//
// POST /api/import/ics?mainTitle=운동&color=%23A8C686&backfill=30&days=90
//   - mainTitle: goal for every event (default: each event's CATEGORIES)
//   - color:     color for events without one (default: selected color)
//   - backfill:  days before today to import (default 30)
//   - days:      days after today to import (default 90)
func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	backfill := parseIntDefault(q.Get("backfill"), 30)
	if backfill < 0 {
		backfill = 0
	}
	days := parseIntDefault(q.Get("days"), 90)
	if days <= 0 {
		days = 90
	}
	color := q.Get("color")
	if color == "" {
		color = s.ui.Snapshot().SelectedColor
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	events, err := ics.ParseFeed(ics.Source{}, body, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.clock()
	exp, err := ics.Expand(events, ics.Window{
		Loc:  s.loc,
		From: now.AddDate(0, 0, -backfill),
		To:   now.AddDate(0, 0, days),
	})
	if err != nil {
		writeFailure(w, "import ics", err)
		return
	}
	subs := ics.ToSubSchedules(exp.Occurrences, ics.ImportOptions{MainTitle: q.Get("mainTitle"), Color: color})

	resp := importResponse{Imported: len(subs), Truncated: exp.Truncated}
	for _, g := range spanByTitle(subs) {
		ms, created, err := s.store.EnsureMainSchedule(r.Context(), g.title, g.color, g.start, g.end)
		if err != nil {
			writeFailure(w, "import ics", err)
			return
		}
		if created {
			resp.Created = append(resp.Created, ms.Title)
		}
	}
	if err := s.store.MergeSubSchedules(r.Context(), subs); err != nil {
		writeFailure(w, "import ics", err)
		return
	}
	appLog.Info("ics imported", "events", len(events), "sub_schedules", len(subs), "goals_created", len(resp.Created))
	writeJSON(w, http.StatusOK, resp)
}

type titleSpan struct {
	title      string
	color      string
	start, end time.Time
}

// spanByTitle groups subs by goal title, in first-seen order, with the
// time range each goal covers.
func spanByTitle(subs []model.SubSchedule) []titleSpan {
	var out []titleSpan
	idx := map[string]int{}
	for _, sub := range subs {
		i, ok := idx[sub.MainScheduleTitle]
		if !ok {
			idx[sub.MainScheduleTitle] = len(out)
			out = append(out, titleSpan{title: sub.MainScheduleTitle, color: sub.Color, start: sub.StartTime, end: sub.EndTime})
			continue
		}
		if sub.StartTime.Before(out[i].start) {
			out[i].start = sub.StartTime
		}
		if sub.EndTime.After(out[i].end) {
			out[i].end = sub.EndTime
		}
	}
	return out
}
