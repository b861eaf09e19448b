package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	appLog "weekcal/internal/log"
	"weekcal/internal/model"
	"weekcal/internal/store"
	"weekcal/internal/uistate"
	"weekcal/internal/weekgrid"
)

//go:embed templates/week.tmpl
var templateFS embed.FS

var weekTemplate = template.Must(template.New("week.tmpl").Funcs(template.FuncMap{
	"pct": func(f float64) string { return fmt.Sprintf("%.4f%%", f) },
	"hhmm": func(t time.Time) string {
		return t.Format("15:04")
	},
	"day": func(t time.Time) string {
		return fmt.Sprintf("%d/%d (%s)", int(t.Month()), t.Day(), koreanWeekday[t.Weekday()])
	},
	"hourTop":  func(h int) float64 { return float64(h) * 100 / 24 },
	"colLeft":  func(i int) float64 { return float64(i) * weekgrid.ColumnWidth },
	"colWidth": func() float64 { return weekgrid.ColumnWidth },
	"hours": func() []int {
		h := make([]int, 24)
		for i := range h {
			h[i] = i
		}
		return h
	},
}).ParseFS(templateFS, "templates/week.tmpl"))

var koreanWeekday = [...]string{"일", "월", "화", "수", "목", "금", "토"}

// weekResponse is the JSON shape of /api/week.
type weekResponse struct {
	weekgrid.Result
	Timezone          string             `json:"timezone"`
	ShowPastSchedules bool               `json:"showPastSchedules"`
	SelectedSchedule  *model.SubSchedule `json:"selectedSchedule"`
}

// anchor picks the week to show: ?date=YYYY-MM-DD, or the UI's current week.
func (s *Server) anchor(r *http.Request) (time.Time, error) {
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, s.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
		}
		return t, nil
	}
	return s.ui.Snapshot().CurrentWeek.In(s.loc), nil
}

func (s *Server) layout(anchor time.Time) weekgrid.Result {
	return weekgrid.Layout(s.store.SubSchedules(), anchor, weekgrid.Options{
		Now:       s.clock(),
		MainTitle: s.store.MainTitleFor,
		OnDiagnostic: func(d weekgrid.Diagnostic) {
			appLog.Debug("week layout skipped event", "index", d.EventIndex, "id", d.ID, "reason", d.Reason)
		},
	})
}

// handleWeek returns the laid-out week.
//
// GET /api/week?date=2024-01-03
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.anchor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, weekResponse{
		Result:            s.layout(anchor),
		Timezone:          s.loc.String(),
		ShowPastSchedules: s.store.ShowPastSchedules(),
		SelectedSchedule:  s.store.SelectedSchedule(),
	})
}

type weekPage struct {
	Week     weekgrid.Result
	UI       uistate.State
	Timezone string
	Prev     string
	Next     string
	Today    bool
}

// handleWeekPage renders the week grid as HTML. The capture job waits for
// its data-ready marker.
func (s *Server) handleWeekPage(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.anchor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := s.layout(anchor)
	now := s.clock()
	page := weekPage{
		Week:     res,
		UI:       s.ui.Snapshot(),
		Timezone: s.loc.String(),
		Prev:     res.WeekStart.AddDate(0, 0, -7).Format("2006-01-02"),
		Next:     res.WeekStart.AddDate(0, 0, 7).Format("2006-01-02"),
		Today:    !now.Before(res.WeekStart) && !now.After(res.WeekEnd),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := weekTemplate.Execute(w, page); err != nil {
		appLog.Error("week page render failed", err)
	}
}

// handleColors lists the palette offered by the color pickers.
func (s *Server) handleColors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"colors":  store.PredefinedColors,
		"default": uistate.DefaultColor,
	})
}

func (s *Server) handleUI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ui.Snapshot())
}

// handleUIAction applies one navigation action:
//
//	select {"panel": "calendar"}   open   close   toggle
//	prev   next   week {"date": "2024-01-03"}   color {"color": "#A27B5C"}
func (s *Server) handleUIAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Panel string `json:"panel"`
		Date  string `json:"date"`
		Color string `json:"color"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var st uistate.State
	switch action := r.PathValue("action"); action {
	case "select":
		switch body.Panel {
		case uistate.PanelNone, uistate.PanelCalendar, uistate.PanelAI, uistate.PanelGoals, uistate.PanelSettings:
		default:
			writeError(w, http.StatusBadRequest, "unknown panel "+body.Panel)
			return
		}
		st = s.ui.SelectPanel(body.Panel)
	case "open":
		st = s.ui.SetSidebarOpen(true)
	case "close":
		st = s.ui.CloseSidebar()
	case "toggle":
		st = s.ui.ToggleSidebar()
	case "prev":
		st = s.ui.PrevWeek()
	case "next":
		st = s.ui.NextWeek()
	case "week":
		t := s.clock()
		if body.Date != "" {
			parsed, err := time.ParseInLocation("2006-01-02", body.Date, s.loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
				return
			}
			t = parsed
		}
		st = s.ui.SetWeek(t)
	case "color":
		st = s.ui.SetSelectedColor(body.Color)
	default:
		writeError(w, http.StatusNotFound, "unknown ui action "+action)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
