// Package ai drives the AI schedule intake: collect the request, have the
// backend draft a schedule, let the user recolor or regenerate it, and
// finally turn it into sub schedules in the store.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"weekcal/internal/api"
	appLog "weekcal/internal/log"
	"weekcal/internal/model"
	"weekcal/internal/store"
	"weekcal/internal/validate"
)

// Request is the text intake form.
type Request = validate.AIRequestForm

// Backend is the subset of the API client used here.
type Backend interface {
	CreateAISchedule(ctx context.Context, req api.AIScheduleRequest) (json.RawMessage, error)
	ReRequestAISchedule(ctx context.Context, origin json.RawMessage, extra string) (json.RawMessage, error)
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	CreateSchedule(ctx context.Context, req api.CreateScheduleRequest) (api.RemoteSchedule, error)
}

// Service generates and accepts AI suggestions.
type Service struct {
	backend Backend
	loc     *time.Location
}

// NewService returns a Service that formats dates in loc.
func NewService(b Backend, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{backend: b, loc: loc}
}

const requestLayout = "2006-01-02T15:04"

// Generate validates req and asks the backend for a draft. Validation
// failures come back as validate.FieldErrors without calling the backend.
func (s *Service) Generate(ctx context.Context, req Request) (Suggestion, error) {
	if errs := validate.All(req); !errs.OK() {
		return Suggestion{}, errs
	}
	raw, err := s.backend.CreateAISchedule(ctx, api.AIScheduleRequest{
		StartDate:         req.StartDateTime.In(s.loc).Format(requestLayout),
		EndDate:           req.EndDateTime.In(s.loc).Format(requestLayout),
		Task:              req.Task,
		AvailableTime:     req.AvailableTime,
		AdditionalRequest: req.AdditionalNotes,
	})
	if err != nil {
		return Suggestion{}, err
	}
	sug, err := DecodeSuggestion(raw)
	if err != nil {
		return Suggestion{}, err
	}
	appLog.Info("ai: suggestion generated", "days", len(sug.Days))
	return sug, nil
}

// ReRequest regenerates origin with an additional instruction.
func (s *Service) ReRequest(ctx context.Context, origin Suggestion, extra string) (Suggestion, error) {
	raw, err := origin.Encode()
	if err != nil {
		return Suggestion{}, fmt.Errorf("ai: encode origin: %w", err)
	}
	out, err := s.backend.ReRequestAISchedule(ctx, raw, extra)
	if err != nil {
		return Suggestion{}, err
	}
	return DecodeSuggestion(out)
}

// Transcribe converts recorded audio to the task text of a request.
func (s *Service) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	return s.backend.Transcribe(ctx, audio, filename)
}

// Accept stores subs, creating any goal they name that does not exist yet.
// It stops at the first failure and returns what was stored so far.
func (s *Service) Accept(ctx context.Context, st *store.Store, subs []model.SubSchedule) ([]model.SubSchedule, error) {
	for _, g := range groupByMain(subs) {
		if _, created, err := st.EnsureMainSchedule(ctx, g.title, g.color, g.start, g.end); err != nil {
			return nil, err
		} else if created {
			appLog.Info("ai: goal created", "title", g.title)
		}
	}

	saved := make([]model.SubSchedule, 0, len(subs))
	for _, sub := range subs {
		out, err := st.UpsertSubSchedule(ctx, sub)
		if err != nil {
			return saved, err
		}
		saved = append(saved, out)
	}
	return saved, nil
}

// Publish sends accepted sub schedules to the backend, one create call per
// goal.
func (s *Service) Publish(ctx context.Context, userID string, subs []model.SubSchedule) error {
	for _, g := range groupByMain(subs) {
		ms := model.MainSchedule{Title: g.title, Color: g.color, StartTime: g.start, EndTime: g.end}
		if _, err := s.backend.CreateSchedule(ctx, api.FromModel(userID, ms, g.subs)); err != nil {
			return err
		}
	}
	return nil
}

type mainGroup struct {
	title      string
	color      string
	start, end time.Time
	subs       []model.SubSchedule
}

func groupByMain(subs []model.SubSchedule) []*mainGroup {
	var order []*mainGroup
	idx := make(map[string]*mainGroup)
	for _, sub := range subs {
		title := sub.MainScheduleTitle
		if title == "" {
			title = model.DefaultMainTitle
		}
		g, ok := idx[title]
		if !ok {
			g = &mainGroup{title: title, color: sub.Color, start: sub.StartTime, end: sub.EndTime}
			idx[title] = g
			order = append(order, g)
		}
		if sub.StartTime.Before(g.start) {
			g.start = sub.StartTime
		}
		if sub.EndTime.After(g.end) {
			g.end = sub.EndTime
		}
		g.subs = append(g.subs, sub)
	}
	return order
}
