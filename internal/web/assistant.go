package web

import (
	"net/http"
	"strings"
	"time"

	"weekcal/internal/ai"
	"weekcal/internal/api"
	appLog "weekcal/internal/log"
	"weekcal/internal/model"
	"weekcal/internal/validate"
	"weekcal/internal/weekgrid"
)

// aiDraft is the suggestion on screen and the range it was asked for.
type aiDraft struct {
	Suggestion ai.Suggestion `json:"suggestion"`
	From       time.Time     `json:"from"`
	To         time.Time     `json:"to"`
}

func (s *Server) currentDraft() *aiDraft {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	if s.draft == nil {
		return nil
	}
	d := *s.draft
	return &d
}

func (s *Server) setDraft(d *aiDraft) {
	s.draftMu.Lock()
	s.draft = d
	s.draftMu.Unlock()
}

func (s *Server) requireAI(w http.ResponseWriter) bool {
	if s.ai == nil {
		writeError(w, http.StatusServiceUnavailable, "AI intake is not configured")
		return false
	}
	return true
}

func (s *Server) requireDraft(w http.ResponseWriter) (*aiDraft, bool) {
	d := s.currentDraft()
	if d == nil {
		writeError(w, http.StatusConflict, "no AI suggestion to work on; generate one first")
		return nil, false
	}
	return d, true
}

func (s *Server) handleAIDraft(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"draft": s.currentDraft()})
}

// aiGenerateRequest carries the intake form as typed in the browser;
// datetime-local values have no offset and are read in the display zone.
type aiGenerateRequest struct {
	StartDateTime   string `json:"startDateTime"`
	EndDateTime     string `json:"endDateTime"`
	Task            string `json:"task"`
	AvailableTime   string `json:"availableTime"`
	AdditionalNotes string `json:"additionalNotes"`
}

func (s *Server) toAIRequest(in aiGenerateRequest) (ai.Request, validate.FieldErrors) {
	fe := validate.FieldErrors{}
	req := ai.Request{
		Task:            strings.TrimSpace(in.Task),
		AvailableTime:   strings.TrimSpace(in.AvailableTime),
		AdditionalNotes: strings.TrimSpace(in.AdditionalNotes),
	}
	if in.StartDateTime != "" {
		t, err := weekgrid.ParseTimestamp(in.StartDateTime, s.loc)
		if err != nil {
			fe["startDateTime"] = "시작 시간 형식이 올바르지 않습니다."
		}
		req.StartDateTime = t
	}
	if in.EndDateTime != "" {
		t, err := weekgrid.ParseTimestamp(in.EndDateTime, s.loc)
		if err != nil {
			fe["endDateTime"] = "종료 시간 형식이 올바르지 않습니다."
		}
		req.EndDateTime = t
	}
	return req, fe
}

// handleAIGenerate validates the intake form and asks the backend for a
// draft. The draft replaces any previous one.
func (s *Server) handleAIGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.requireAI(w) {
		return
	}
	var in aiGenerateRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, fe := s.toAIRequest(in)
	if !fe.OK() {
		writeValidation(w, fe)
		return
	}

	sug, err := s.ai.Generate(r.Context(), req)
	if err != nil {
		writeFailure(w, api.OpAICreate, err)
		return
	}
	d := &aiDraft{Suggestion: sug, From: req.StartDateTime, To: req.EndDateTime}
	s.setDraft(d)
	writeJSON(w, http.StatusOK, d)
}

// handleAIReRequest regenerates the current draft with an extra instruction.
func (s *Server) handleAIReRequest(w http.ResponseWriter, r *http.Request) {
	if !s.requireAI(w) {
		return
	}
	var body struct {
		AdditionalRequest string `json:"additionalRequest"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	extra := strings.TrimSpace(body.AdditionalRequest)
	if extra == "" {
		writeValidation(w, validate.FieldErrors{"additionalRequest": "추가 요청 사항을 입력해주세요."})
		return
	}
	d, ok := s.requireDraft(w)
	if !ok {
		return
	}

	sug, err := s.ai.ReRequest(r.Context(), d.Suggestion, extra)
	if err != nil {
		writeFailure(w, api.OpAIReRequest, err)
		return
	}
	d.Suggestion = sug
	s.setDraft(d)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAIRecolor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Color string `json:"color"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Color == "" {
		body.Color = s.ui.Snapshot().SelectedColor
	}
	d, ok := s.requireDraft(w)
	if !ok {
		return
	}
	d.Suggestion = ai.Recolor(d.Suggestion, body.Color)
	s.setDraft(d)
	writeJSON(w, http.StatusOK, d)
}

type acceptResponse struct {
	Saved        []model.SubSchedule `json:"saved"`
	Skipped      string              `json:"skipped,omitempty"`
	Published    bool                `json:"published"`
	PublishError string              `json:"publishError,omitempty"`
	Retryable    bool                `json:"retryable,omitempty"`
}

// handleAIAccept materializes the draft over its range and stores it.
// With {"publish": true} and a session, the result is also sent to the
// backend; a publish failure does not undo the local save.
func (s *Server) handleAIAccept(w http.ResponseWriter, r *http.Request) {
	if !s.requireAI(w) {
		return
	}
	var body struct {
		Publish bool `json:"publish"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, ok := s.requireDraft(w)
	if !ok {
		return
	}

	subs, mErr := ai.Materialize(d.Suggestion, d.From, d.To, s.loc)
	if mErr != nil {
		appLog.Error("ai: some suggested tasks were skipped", mErr)
	}
	color := s.ui.Snapshot().SelectedColor
	for i := range subs {
		if subs[i].Color == "" {
			subs[i].Color = color
		}
	}

	saved, err := s.ai.Accept(r.Context(), s.store, subs)
	if err != nil {
		writeFailure(w, "ai accept", err)
		return
	}
	s.setDraft(nil)

	resp := acceptResponse{Saved: saved}
	if mErr != nil {
		resp.Skipped = mErr.Error()
	}
	if body.Publish && s.sess.LoggedIn() {
		if err := s.ai.Publish(r.Context(), s.ownerID(), saved); err != nil {
			appLog.Error("ai: publish failed", err)
			resp.PublishError = err.Error()
			resp.Retryable = api.IsTransient(err)
		} else {
			resp.Published = true
		}
	}
	appLog.Info("ai: suggestion accepted", "saved", len(saved), "published", resp.Published)
	writeJSON(w, http.StatusOK, resp)
}

// handleAITranscribe takes a multipart audioFile and returns its text.
func (s *Server) handleAITranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requireAI(w) {
		return
	}
	if err := r.ParseMultipartForm(maxRequestBody); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	f, hdr, ok, err := formFile(r, "audioFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid audio file: "+err.Error())
		return
	}
	if !ok {
		writeValidation(w, validate.FieldErrors{"audioFile": "음성 파일이 필요합니다."})
		return
	}
	defer f.Close()

	text, err := s.ai.Transcribe(r.Context(), f, hdr.Filename)
	if err != nil {
		writeFailure(w, api.OpTranscribe, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
