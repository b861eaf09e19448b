package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"weekcal/internal/api"
	appLog "weekcal/internal/log"
	"weekcal/internal/model"
	"weekcal/internal/store"
	"weekcal/internal/validate"
)

func (s *Server) handleListMainSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.MainSchedules())
}

func (s *Server) handleSelectableMainSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"showPastSchedules": s.store.ShowPastSchedules(),
		"mainSchedules":     s.store.SelectableMainSchedules(s.clock()),
	})
}

// handleAddMainSchedule is the "add goal" form submit.
func (s *Server) handleAddMainSchedule(w http.ResponseWriter, r *http.Request) {
	var form validate.MainScheduleForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := validate.All(form); !errs.OK() {
		writeValidation(w, errs)
		return
	}
	ms, err := s.store.AddMainSchedule(r.Context(), model.MainSchedule{
		OwnerID:   s.ownerID(),
		Title:     strings.TrimSpace(form.Title),
		StartTime: form.StartTime,
		EndTime:   form.EndTime,
		Color:     form.Color,
	})
	if err != nil {
		writeFailure(w, "add main schedule", err)
		return
	}
	appLog.Info("main schedule added", "id", ms.ID, "title", ms.Title)
	writeJSON(w, http.StatusCreated, ms)
}

func (s *Server) handleUpdateMainSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid main schedule id")
		return
	}
	var patch store.MainSchedulePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch.ID = id
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		writeValidation(w, validate.FieldErrors{"title": "목표 이름을 입력해주세요."})
		return
	}

	ok, err := s.store.UpdateMainSchedule(r.Context(), patch)
	if err != nil {
		writeFailure(w, "update main schedule", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "main schedule not found")
		return
	}
	for _, ms := range s.store.MainSchedules() {
		if ms.ID == id {
			writeJSON(w, http.StatusOK, ms)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMainSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid main schedule id")
		return
	}
	ok, err := s.store.DeleteMainSchedule(r.Context(), id)
	if err != nil {
		writeFailure(w, "delete main schedule", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "main schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// subScheduleDTO is a sub schedule as the week page lists it, with the
// derived status and resolved group title.
type subScheduleDTO struct {
	model.SubSchedule
	DisplayTitle string `json:"displayMainTitle"`
	Status       string `json:"status"`
}

func (s *Server) subDTO(sub model.SubSchedule, now time.Time) subScheduleDTO {
	return subScheduleDTO{SubSchedule: sub, DisplayTitle: s.store.MainTitleFor(sub), Status: sub.Status(now)}
}

func (s *Server) handleListSubSchedules(w http.ResponseWriter, _ *http.Request) {
	now := s.clock()
	subs := s.store.SubSchedules()
	out := make([]subScheduleDTO, 0, len(subs))
	for _, sub := range subs {
		out = append(out, s.subDTO(sub, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSubSchedule(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.store.SubSchedule(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "sub schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, s.subDTO(sub, s.clock()))
}

// upsertRequest is the create/edit form. NewMainScheduleTitle is set when
// the user typed a goal that is not in the dropdown.
type upsertRequest struct {
	model.SubSchedule
	NewMainScheduleTitle string `json:"newMainScheduleTitle,omitempty"`
}

func (s *Server) handleUpsertSubSchedule(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub := req.SubSchedule
	if sub.Color == "" {
		sub.Color = s.ui.Snapshot().SelectedColor
	}

	if title := strings.TrimSpace(req.NewMainScheduleTitle); title != "" {
		if errs := validate.All(validate.SubScheduleForm{
			MainScheduleTitle: title,
			SubScheduleTitle:  sub.SubScheduleTitle,
			StartTime:         sub.StartTime,
			EndTime:           sub.EndTime,
			Color:             sub.Color,
		}); !errs.OK() {
			writeValidation(w, errs)
			return
		}
		ms, created, err := s.store.EnsureMainSchedule(r.Context(), title, sub.Color, sub.StartTime, sub.EndTime)
		if err != nil {
			writeFailure(w, "ensure main schedule", err)
			return
		}
		if created {
			appLog.Info("main schedule created from sub schedule form", "id", ms.ID, "title", ms.Title)
		}
		sub.MainScheduleID = ms.ID
		sub.MainScheduleTitle = ms.Title
	}

	_, existed := s.store.SubSchedule(sub.ID)
	saved, err := s.store.UpsertSubSchedule(r.Context(), sub)
	if err != nil {
		writeFailure(w, "upsert sub schedule", err)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, s.subDTO(saved, s.clock()))
}

type deleteResponse struct {
	Deleted     bool   `json:"deleted"`
	RemoteError string `json:"remoteError,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

// handleDeleteSubSchedule removes the entry locally, then on the backend
// when logged in. A failed remote delete is reported but the local delete
// stands.
func (s *Server) handleDeleteSubSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, ok, err := s.store.DeleteSubSchedule(r.Context(), id)
	if err != nil {
		writeFailure(w, "delete sub schedule", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "sub schedule not found")
		return
	}

	resp := deleteResponse{Deleted: true}
	if s.backend != nil && s.sess.LoggedIn() {
		if err := s.backend.DeleteSubSchedule(r.Context(), removed.ID, removed.SubScheduleTitle); err != nil {
			appLog.Error("remote sub schedule delete failed", err, "id", removed.ID)
			resp.RemoteError = err.Error()
			resp.Retryable = api.IsTransient(err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSelection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"selectedSchedule": s.store.SelectedSchedule()})
}

// handleSetSelection focuses the sub schedule named by {"id": ...};
// a null or empty id clears the selection.
func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID *string `json:"id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var sel *model.SubSchedule
	if body.ID != nil && *body.ID != "" {
		sub, ok := s.store.SubSchedule(*body.ID)
		if !ok {
			writeError(w, http.StatusNotFound, "sub schedule not found")
			return
		}
		sel = &sub
	}
	if err := s.store.SetSelectedSchedule(r.Context(), sel); err != nil {
		writeFailure(w, "set selection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"selectedSchedule": sel})
}

func (s *Server) handleToggleShowPast(w http.ResponseWriter, r *http.Request) {
	on, err := s.store.ToggleShowPastSchedules(r.Context())
	if err != nil {
		writeFailure(w, "toggle show past", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"showPastSchedules": on})
}

// ownerID is the logged-in user's id, or "" offline.
func (s *Server) ownerID() string {
	if !s.sess.LoggedIn() {
		return ""
	}
	c, err := s.sess.Claims()
	if err != nil {
		return ""
	}
	return c.UserID
}
