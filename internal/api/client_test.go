package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weekcal/internal/session"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *session.Session) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	sess := session.New()
	return New(sess, Options{BaseURL: srv.URL + "/api/v1", Timeout: 2 * time.Second}), sess
}

func TestLoginStoresTokenWithoutBearer(t *testing.T) {
	c, sess := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/aB12Xz/LWyAtd", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["email"])
		_, _ = io.WriteString(w, `{"accessToken":"tok-1"}`)
	})
	sess.Set("stale")

	require.NoError(t, c.Login(context.Background(), "user@example.com", "secret123"))
	assert.Equal(t, "tok-1", sess.Token())
}

func TestBearerOnAuthenticatedCalls(t *testing.T) {
	c, sess := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/UAKRPCjN/WJsdDo", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2024-01-03", body["date"])
		_, _ = io.WriteString(w, `{"schedules":[{"mainScheduleId":7,"mainTitle":"도커공부","color":"#3357FF",
			"subSchedules":[{"subScheduleId":"s-1","subScheduleTitle":"compose","startTime":"2024-01-03T09:00:00","endTime":"2024-01-03T10:30:00"}]}]}`)
	})
	sess.Set("tok-2")

	got, err := c.SpecificWeek(context.Background(), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, FlexID("7"), got[0].MainScheduleID)
	assert.Equal(t, "compose", got[0].SubSchedules[0].SubScheduleTitle)
}

func TestLogoutClearsTokenEvenOnFailure(t *testing.T) {
	c, sess := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})
	sess.Set("tok")

	_, err := c.Logout(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Empty(t, sess.Token())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"message":"nope"}`)
			})
			err := c.DeleteSubSchedule(context.Background(), "id", "title")
			require.Error(t, err)
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.Equal(t, tc.status, StatusOf(err))

			var ae *Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "nope", ae.Message)
			assert.Equal(t, OpDeleteSubSchedule, ae.Op)
		})
	}
}

func TestMalformedResponseIsPermanent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"schedules":`)
	})
	_, err := c.ThisWeek(context.Background())
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(session.New(), Options{BaseURL: url, Timeout: time.Second})
	_, err := c.ThisWeek(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCanceledContextIsNotTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ThisWeek(ctx)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(session.New(), Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.ThisWeek(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestTranscribeMultipart(t *testing.T) {
	c, sess := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stt", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Kor", r.FormValue("language"))
		f, _, err := r.FormFile("audioFile")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFdata", string(data))
		_, _ = io.WriteString(w, `{"text":"매일 운동하기"}`)
	})
	sess.Set("tok")

	text, err := c.Transcribe(context.Background(), strings.NewReader("RIFFdata"), "a.wav")
	require.NoError(t, err)
	assert.Equal(t, "매일 운동하기", text)
}

func TestRegisterMultipart(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "홍길동", r.FormValue("name"))
		assert.Equal(t, "1999-01-01", r.FormValue("birthDate"))
		_, _, err := r.FormFile("profileImage")
		assert.NoError(t, err)
		_, _ = io.WriteString(w, `{"email":"gil@example.com"}`)
	})

	email, err := c.Register(context.Background(), RegisterRequest{
		Name: "홍길동", Email: "gil@example.com", Password: "abcd1234", BirthDate: "1999-01-01",
		ProfileImage: strings.NewReader("png"), ProfileImageName: "me.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "gil@example.com", email)
}

func TestAIEndpointsPassRawSchedule(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/api/v1/qwDioSA/SmdBid":
			assert.Equal(t, "운동", body["task"])
			_, _ = io.WriteString(w, `{"schedule":[{"dayName":"Monday","tasks":[]}]}`)
		case "/api/v1/qwDioSA/LdslbEd":
			assert.JSONEq(t, `[{"dayName":"Monday","tasks":[]}]`, body["originSchedule"])
			assert.Equal(t, "아침으로", body["newAdditionalRequest"])
			_, _ = io.WriteString(w, `{"schedule":[{"dayName":"Tuesday","tasks":[]}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	raw, err := c.CreateAISchedule(context.Background(), AIScheduleRequest{Task: "운동"})
	require.NoError(t, err)
	again, err := c.ReRequestAISchedule(context.Background(), raw, "아침으로")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"dayName":"Tuesday","tasks":[]}]`, string(again))
}

func TestEndpointOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/custom/week", r.URL.Path)
		_, _ = io.WriteString(w, `{"schedules":[]}`)
	}))
	defer srv.Close()

	c := New(nil, Options{BaseURL: srv.URL, Endpoints: map[string]string{OpWeek: "/custom/week"}})
	got, err := c.ThisWeek(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
