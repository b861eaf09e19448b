// Package api is the client of the remote scheduling backend.
//
// Every call is a POST with a JSON or multipart body. The bearer token from
// the session is attached to every request except login.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	appLog "weekcal/internal/log"
	"weekcal/internal/session"
)

// Operation names, usable as keys of Options.Endpoints.
const (
	OpLogin             = "login"
	OpLogout            = "logout"
	OpRegister          = "register"
	OpSchedulesByDate   = "schedules_by_date"
	OpWeek              = "week"
	OpCreateSchedule    = "create_schedule"
	OpDeleteSubSchedule = "delete_sub_schedule"
	OpAICreate          = "ai_create"
	OpAIReRequest       = "ai_rerequest"
	OpTranscribe        = "stt"
)

// DefaultEndpoints are the backend's paths relative to the base URL.
var DefaultEndpoints = map[string]string{
	OpLogin:             "/aB12Xz/LWyAtd",
	OpLogout:            "/aB12Xz/odsQk",
	OpRegister:          "/aB12Xz/RClmJ",
	OpSchedulesByDate:   "/UAKRPCjN/lCSZB",
	OpWeek:              "/UAKRPCjN/WJsdDo",
	OpCreateSchedule:    "/UAKRPCjN/BDSdE",
	OpDeleteSubSchedule: "/UAKRPCjN/SHVLC",
	OpAICreate:          "/qwDioSA/SmdBid",
	OpAIReRequest:       "/qwDioSA/LdslbEd",
	OpTranscribe:        "/stt",
}

const (
	dateLayout   = "2006-01-02"
	maxBodyBytes = 8 << 20
)

// Options configure a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration // ordinary calls
	AITimeout time.Duration // AI generation and speech-to-text
	// Endpoints overrides entries of DefaultEndpoints.
	Endpoints  map[string]string
	HTTPClient *http.Client
}

// Client talks to the backend on behalf of the logged-in user.
type Client struct {
	base      string
	timeout   time.Duration
	aiTimeout time.Duration
	paths     map[string]string
	http      *http.Client
	sess      *session.Session
}

// New creates a Client. sess receives the token on login and is cleared on
// logout.
func New(sess *session.Session, opts Options) *Client {
	paths := make(map[string]string, len(DefaultEndpoints))
	for k, v := range DefaultEndpoints {
		paths[k] = v
	}
	for k, v := range opts.Endpoints {
		if v != "" {
			paths[k] = v
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.AITimeout <= 0 {
		opts.AITimeout = 2 * time.Minute
	}
	hc := opts.HTTPClient
	if hc == nil {
		// Deadlines come from per-call contexts.
		hc = &http.Client{}
	}
	if sess == nil {
		sess = session.New()
	}
	return &Client{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		timeout:   opts.Timeout,
		aiTimeout: opts.AITimeout,
		paths:     paths,
		http:      hc,
		sess:      sess,
	}
}

// Session returns the session the client reads its token from.
func (c *Client) Session() *session.Session { return c.sess }

// Login exchanges credentials for an access token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	err := c.postJSON(ctx, OpLogin, c.timeout, map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return err
	}
	if out.AccessToken == "" {
		return &Error{Op: OpLogin, Status: http.StatusOK, Message: "response carried no access token"}
	}
	c.sess.Set(out.AccessToken)
	return nil
}

// Logout tells the backend and forgets the token. The local token is
// cleared even when the call fails.
func (c *Client) Logout(ctx context.Context) (string, error) {
	defer c.sess.Clear()
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.postJSON(ctx, OpLogout, c.timeout, nil, &out); err != nil {
		return "", err
	}
	return strings.Trim(string(out.Result), `"`), nil
}

// RegisterRequest is the signup form. ProfileImage is optional.
type RegisterRequest struct {
	Name             string
	Email            string
	Password         string
	BirthDate        string
	ProfileImage     io.Reader
	ProfileImageName string
}

// Register creates an account and returns the registered email.
func (c *Client) Register(ctx context.Context, r RegisterRequest) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range [][2]string{
		{"name", r.Name},
		{"email", r.Email},
		{"password", r.Password},
		{"birthDate", r.BirthDate},
	} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", &Error{Op: OpRegister, Err: err}
		}
	}
	if r.ProfileImage != nil {
		name := r.ProfileImageName
		if name == "" {
			name = "profile"
		}
		fw, err := mw.CreateFormFile("profileImage", name)
		if err != nil {
			return "", &Error{Op: OpRegister, Err: err}
		}
		if _, err := io.Copy(fw, r.ProfileImage); err != nil {
			return "", &Error{Op: OpRegister, Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return "", &Error{Op: OpRegister, Err: err}
	}

	var out struct {
		Email string `json:"email"`
	}
	if err := c.do(ctx, OpRegister, c.timeout, &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

type schedulesResponse struct {
	Schedules []RemoteSchedule `json:"schedules"`
}

// SchedulesByDate returns the schedules active on date.
func (c *Client) SchedulesByDate(ctx context.Context, date time.Time) ([]RemoteSchedule, error) {
	var out schedulesResponse
	err := c.postJSON(ctx, OpSchedulesByDate, c.timeout, map[string]string{"date": date.Format(dateLayout)}, &out)
	return out.Schedules, err
}

// ThisWeek returns the schedules of the backend's current week.
func (c *Client) ThisWeek(ctx context.Context) ([]RemoteSchedule, error) {
	var out schedulesResponse
	err := c.postJSON(ctx, OpWeek, c.timeout, nil, &out)
	return out.Schedules, err
}

// SpecificWeek returns the schedules of the week containing date.
func (c *Client) SpecificWeek(ctx context.Context, date time.Time) ([]RemoteSchedule, error) {
	var out schedulesResponse
	err := c.postJSON(ctx, OpWeek, c.timeout, map[string]string{"date": date.Format(dateLayout)}, &out)
	return out.Schedules, err
}

// CreateScheduleRequest creates a goal together with its sub schedules.
type CreateScheduleRequest struct {
	UserID       string              `json:"userId"`
	MainTitle    string              `json:"mainTitle"`
	Color        string              `json:"color"`
	StartTime    string              `json:"startTime"`
	EndTime      string              `json:"endTime"`
	SubSchedules []RemoteSubSchedule `json:"subSchedules"`
}

// CreateSchedule saves a goal and its sub schedules remotely.
func (c *Client) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (RemoteSchedule, error) {
	var out RemoteSchedule
	err := c.postJSON(ctx, OpCreateSchedule, c.timeout, req, &out)
	return out, err
}

// DeleteSubSchedule deletes a sub schedule remotely. The backend matches
// by title; the id is sent alongside for backends that support it.
func (c *Client) DeleteSubSchedule(ctx context.Context, id, title string) error {
	return c.postJSON(ctx, OpDeleteSubSchedule, c.timeout, map[string]string{
		"subScheduleId":    id,
		"subScheduleTitle": title,
	}, nil)
}

// AIScheduleRequest asks the backend to draft a schedule.
type AIScheduleRequest struct {
	StartDate         string `json:"startDate"`
	EndDate           string `json:"endDate"`
	Task              string `json:"task"`
	AvailableTime     string `json:"availableTime"`
	AdditionalRequest string `json:"additionalRequest"`
}

type aiResponse struct {
	Schedule json.RawMessage `json:"schedule"`
}

// CreateAISchedule returns the generated schedule as raw JSON.
func (c *Client) CreateAISchedule(ctx context.Context, req AIScheduleRequest) (json.RawMessage, error) {
	var out aiResponse
	if err := c.postJSON(ctx, OpAICreate, c.aiTimeout, req, &out); err != nil {
		return nil, err
	}
	return out.Schedule, nil
}

// ReRequestAISchedule regenerates origin with an extra instruction.
func (c *Client) ReRequestAISchedule(ctx context.Context, origin json.RawMessage, extra string) (json.RawMessage, error) {
	var out aiResponse
	err := c.postJSON(ctx, OpAIReRequest, c.aiTimeout, map[string]string{
		"originSchedule":       string(origin),
		"newAdditionalRequest": extra,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Schedule, nil
}

// Transcribe sends recorded audio for Korean speech-to-text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = "recording.webm"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audioFile", filename)
	if err != nil {
		return "", &Error{Op: OpTranscribe, Err: err}
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", &Error{Op: OpTranscribe, Err: err}
	}
	if err := mw.WriteField("language", "Kor"); err != nil {
		return "", &Error{Op: OpTranscribe, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &Error{Op: OpTranscribe, Err: err}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := c.do(ctx, OpTranscribe, c.aiTimeout, &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *Client) postJSON(ctx context.Context, op string, timeout time.Duration, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, op, timeout, body, contentType, out)
}

func (c *Client) do(ctx context.Context, op string, timeout time.Duration, body io.Reader, contentType string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+c.paths[op], body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if op != OpLogin {
		if tok := c.sess.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		appLog.Error("api request failed", err, "op", op)
		return transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Transient: true, Err: err}
	}
	appLog.Debug("api request done", "op", op, "status", resp.StatusCode,
		"elapsed_ms", time.Since(started).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Op:        op,
			Status:    resp.StatusCode,
			Message:   remoteMessage(data, resp.Status),
			Transient: transientStatus(resp.StatusCode),
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}
