package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weekcal/internal/api"
	"weekcal/internal/store"
	"weekcal/internal/validate"
)

var kst = time.FixedZone("KST", 9*60*60)

type fakeBackend struct {
	created   []api.AIScheduleRequest
	origins   []json.RawMessage
	published []api.CreateScheduleRequest
	schedule  string
	err       error
}

func (f *fakeBackend) CreateAISchedule(_ context.Context, req api.AIScheduleRequest) (json.RawMessage, error) {
	f.created = append(f.created, req)
	return json.RawMessage(f.schedule), f.err
}

func (f *fakeBackend) ReRequestAISchedule(_ context.Context, origin json.RawMessage, _ string) (json.RawMessage, error) {
	f.origins = append(f.origins, origin)
	return json.RawMessage(f.schedule), f.err
}

func (f *fakeBackend) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	b, _ := io.ReadAll(audio)
	return "heard:" + string(b), f.err
}

func (f *fakeBackend) CreateSchedule(_ context.Context, req api.CreateScheduleRequest) (api.RemoteSchedule, error) {
	f.published = append(f.published, req)
	return api.RemoteSchedule{MainTitle: req.MainTitle}, f.err
}

const twoDays = `[
	{"dayName":"Monday","tasks":[
		{"mainScheduleTitle":"헬스장 가기","subScheduleTitle":"유산소 운동","start_time":"16:00","end_time":"17:30","description":"런닝머신","color":"#FF5733"}
	]},
	{"dayName":"Wednesday","tasks":[
		{"mainScheduleTitle":"독서하기","subScheduleTitle":"개발 서적 읽기","start_time":"23:00","end_time":"00:30","color":"#FF5733"}
	]}
]`

func TestGenerateValidatesFirst(t *testing.T) {
	fb := &fakeBackend{schedule: twoDays}
	svc := NewService(fb, kst)

	_, err := svc.Generate(context.Background(), Request{Task: "운동"})
	var fe validate.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe, "startDateTime")
	assert.Contains(t, fe, "availableTime")
	assert.Empty(t, fb.created)
}

func TestGenerate(t *testing.T) {
	fb := &fakeBackend{schedule: twoDays}
	svc := NewService(fb, kst)

	sug, err := svc.Generate(context.Background(), Request{
		StartDateTime: time.Date(2024, 1, 1, 0, 0, 0, 0, kst),
		EndDateTime:   time.Date(2024, 1, 7, 23, 0, 0, 0, kst),
		Task:          "운동과 독서",
		AvailableTime: "저녁",
	})
	require.NoError(t, err)
	require.Len(t, sug.Days, 2)
	require.Len(t, fb.created, 1)
	assert.Equal(t, "2024-01-01T00:00", fb.created[0].StartDate)
	assert.Equal(t, "저녁", fb.created[0].AvailableTime)
}

func TestGeneratePropagatesBackendError(t *testing.T) {
	fb := &fakeBackend{err: &api.Error{Op: api.OpAICreate, Status: 503, Transient: true}}
	svc := NewService(fb, kst)
	_, err := svc.Generate(context.Background(), Request{
		StartDateTime: time.Date(2024, 1, 1, 0, 0, 0, 0, kst),
		EndDateTime:   time.Date(2024, 1, 2, 0, 0, 0, 0, kst),
		Task:          "x", AvailableTime: "y",
	})
	assert.True(t, api.IsTransient(err))
}

func TestReRequestSendsOrigin(t *testing.T) {
	fb := &fakeBackend{schedule: `{"days":[{"dayName":"Friday","tasks":[]}]}`}
	svc := NewService(fb, kst)

	origin, err := DecodeSuggestion(json.RawMessage(twoDays))
	require.NoError(t, err)
	got, err := svc.ReRequest(context.Background(), origin, "아침으로 바꿔줘")
	require.NoError(t, err)
	assert.Equal(t, "Friday", got.Days[0].DayName)

	require.Len(t, fb.origins, 1)
	var sent []DayPlan
	require.NoError(t, json.Unmarshal(fb.origins[0], &sent))
	assert.Equal(t, origin.Days, sent)
}

func TestDecodeSuggestionShapes(t *testing.T) {
	quoted, _ := json.Marshal(twoDays)
	for name, raw := range map[string]string{
		"array":  twoDays,
		"object": `{"days":` + twoDays + `}`,
		"string": string(quoted),
	} {
		t.Run(name, func(t *testing.T) {
			s, err := DecodeSuggestion(json.RawMessage(raw))
			require.NoError(t, err)
			require.Len(t, s.Days, 2)
			assert.Equal(t, "유산소 운동", s.Days[0].Tasks[0].SubScheduleTitle)
		})
	}

	_, err := DecodeSuggestion(nil)
	assert.Error(t, err)
}

func TestRecolorDoesNotTouchInput(t *testing.T) {
	s, err := DecodeSuggestion(json.RawMessage(twoDays))
	require.NoError(t, err)

	out := Recolor(s, store.PredefinedColors[0])
	for _, d := range out.Days {
		for _, task := range d.Tasks {
			assert.Equal(t, "#A27B5C", task.Color)
		}
	}
	assert.Equal(t, "#FF5733", s.Days[0].Tasks[0].Color)
}

func TestMaterializeByWeekday(t *testing.T) {
	s, err := DecodeSuggestion(json.RawMessage(twoDays))
	require.NoError(t, err)

	// Two weeks: Mon Jan 1 through Sun Jan 14.
	subs, err := Materialize(s, time.Date(2024, 1, 1, 0, 0, 0, 0, kst), time.Date(2024, 1, 14, 23, 59, 0, 0, kst), kst)
	require.NoError(t, err)
	require.Len(t, subs, 4)

	assert.True(t, subs[0].StartTime.Equal(time.Date(2024, 1, 1, 16, 0, 0, 0, kst)))
	assert.True(t, subs[0].EndTime.Equal(time.Date(2024, 1, 1, 17, 30, 0, 0, kst)))
	assert.Equal(t, "헬스장 가기", subs[0].MainScheduleTitle)

	// 23:00-00:30 crosses midnight.
	assert.True(t, subs[1].StartTime.Equal(time.Date(2024, 1, 3, 23, 0, 0, 0, kst)))
	assert.True(t, subs[1].EndTime.Equal(time.Date(2024, 1, 4, 0, 30, 0, 0, kst)))

	assert.True(t, subs[2].StartTime.Equal(time.Date(2024, 1, 8, 16, 0, 0, 0, kst)))
}

func TestMaterializeRoundRobin(t *testing.T) {
	s := Suggestion{Days: []DayPlan{
		{DayName: "Day 1", Tasks: []Task{{SubScheduleTitle: "a", StartTime: "09:00", EndTime: "10:00"}}},
		{DayName: "Day 2", Tasks: []Task{{SubScheduleTitle: "b", StartTime: "09:00", EndTime: "10:00"}}},
	}}
	subs, err := Materialize(s, time.Date(2024, 1, 1, 8, 0, 0, 0, kst), time.Date(2024, 1, 3, 20, 0, 0, 0, kst), kst)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, []string{"a", "b", "a"}, []string{subs[0].SubScheduleTitle, subs[1].SubScheduleTitle, subs[2].SubScheduleTitle})
	assert.Equal(t, "기본일정", subs[0].MainScheduleTitle)
}

func TestMaterializeReportsBadTimes(t *testing.T) {
	s := Suggestion{Days: []DayPlan{{Tasks: []Task{
		{SubScheduleTitle: "ok", StartTime: "09:00", EndTime: "10:00"},
		{SubScheduleTitle: "bad", StartTime: "nine", EndTime: "10:00"},
	}}}}
	subs, err := Materialize(s, time.Date(2024, 1, 1, 0, 0, 0, 0, kst), time.Date(2024, 1, 1, 23, 0, 0, 0, kst), kst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	require.Len(t, subs, 1)
	assert.Equal(t, "ok", subs[0].SubScheduleTitle)
}

func TestAcceptCreatesGoalsAndPublish(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.NewFileKV(t.TempDir()))
	require.NoError(t, err)

	s, err := DecodeSuggestion(json.RawMessage(twoDays))
	require.NoError(t, err)
	subs, err := Materialize(s, time.Date(2024, 1, 1, 0, 0, 0, 0, kst), time.Date(2024, 1, 7, 23, 0, 0, 0, kst), kst)
	require.NoError(t, err)

	fb := &fakeBackend{}
	svc := NewService(fb, kst)
	saved, err := svc.Accept(ctx, st, subs)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, sub := range saved {
		assert.NotEmpty(t, sub.ID)
		assert.NotZero(t, sub.MainScheduleID)
	}

	titles := make([]string, 0)
	for _, ms := range st.MainSchedules() {
		titles = append(titles, ms.Title)
	}
	assert.Contains(t, titles, "헬스장 가기")
	assert.Contains(t, titles, "독서하기")

	require.NoError(t, svc.Publish(ctx, "102", saved))
	require.Len(t, fb.published, 2)
	assert.Equal(t, "102", fb.published[0].UserID)
	assert.Len(t, fb.published[0].SubSchedules, 1)
}

func TestTranscribe(t *testing.T) {
	svc := NewService(&fakeBackend{}, kst)
	text, err := svc.Transcribe(context.Background(), strings.NewReader("abc"), "a.webm")
	require.NoError(t, err)
	assert.Equal(t, "heard:abc", text)

	svc = NewService(&fakeBackend{err: errors.New("down")}, kst)
	_, err = svc.Transcribe(context.Background(), strings.NewReader("abc"), "a.webm")
	assert.Error(t, err)
}
