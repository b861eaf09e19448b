package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weekcal/internal/model"
	"weekcal/internal/validate"
)

var kst = time.FixedZone("KST", 9*60*60)

func fixedClock() time.Time {
	return time.Date(2024, 11, 20, 9, 0, 0, 0, kst)
}

func openFileStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(context.Background(), NewFileKV(dir), WithClock(fixedClock))
	require.NoError(t, err)
	return s
}

func sampleSub(title string, start time.Time, d time.Duration) model.SubSchedule {
	return model.SubSchedule{
		MainScheduleTitle: "도커공부",
		SubScheduleTitle:  title,
		StartTime:         start,
		EndTime:           start.Add(d),
		Description:       "notes",
		Color:             "#3357FF",
	}
}

func TestOpenSeedsWhenEmpty(t *testing.T) {
	s := openFileStore(t, t.TempDir())

	mains := s.MainSchedules()
	require.Len(t, mains, 3)
	assert.Equal(t, model.DefaultMainTitle, mains[0].Title)
	assert.Equal(t, "도커공부", mains[1].Title)
	assert.Equal(t, "스프링공부", mains[2].Title)
	assert.Empty(t, s.SubSchedules())
	assert.Nil(t, s.SelectedSchedule())
	assert.False(t, s.ShowPastSchedules())
	assert.NoError(t, s.LoadIssue())
}

func TestRoundTripThroughFileKV(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openFileStore(t, dir)

	ms, err := s.AddMainSchedule(ctx, model.MainSchedule{
		Title:     "영어공부",
		Color:     "#A8C686",
		StartTime: time.Date(2024, 11, 1, 0, 0, 0, 0, kst),
		EndTime:   time.Date(2024, 12, 31, 0, 0, 0, 0, kst),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, ms.ID)

	sub, err := s.UpsertSubSchedule(ctx, sampleSub("compose", time.Date(2024, 11, 18, 9, 30, 0, 0, kst), 90*time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.SetSelectedSchedule(ctx, &sub))
	_, err = s.ToggleShowPastSchedules(ctx)
	require.NoError(t, err)

	before := s.Snapshot()

	reopened := openFileStore(t, dir)
	after := reopened.Snapshot()
	assert.Equal(t, before, after)

	// Timestamps come back as time.Time values equal to what went in.
	got := after.SubSchedules[0]
	assert.True(t, got.StartTime.Equal(time.Date(2024, 11, 18, 9, 30, 0, 0, kst)))
	assert.True(t, got.EndTime.Equal(time.Date(2024, 11, 18, 11, 0, 0, 0, kst)))
	assert.True(t, after.ShowPastSchedules)
	require.NotNil(t, after.SelectedSchedule)
	assert.Equal(t, sub.ID, after.SelectedSchedule.ID)
}

func TestRoundTripThroughSQLite(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenSQLiteKV(ctx, ":memory:")
	require.NoError(t, err)
	defer kv.Close()

	s, err := Open(ctx, kv, WithClock(fixedClock))
	require.NoError(t, err)
	_, err = s.UpsertSubSchedule(ctx, sampleSub("sqlite", time.Date(2024, 11, 19, 13, 0, 0, 0, kst), time.Hour))
	require.NoError(t, err)

	again, err := Open(ctx, kv, WithClock(fixedClock))
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), again.Snapshot())
}

func TestRoundTripThroughRedis(t *testing.T) {
	addr := os.Getenv("WEEKCAL_TEST_REDIS")
	if addr == "" {
		t.Skip("WEEKCAL_TEST_REDIS not set")
	}
	ctx := context.Background()
	kv, err := NewRedisKV(ctx, RedisOptions{Addr: addr, Prefix: "weekcal-test:"})
	require.NoError(t, err)
	defer kv.Close()
	t.Cleanup(func() { _ = kv.Delete(ctx, StorageKey) })

	s, err := Open(ctx, kv, WithClock(fixedClock))
	require.NoError(t, err)
	_, err = s.UpsertSubSchedule(ctx, sampleSub("redis", time.Date(2024, 11, 19, 13, 0, 0, 0, kst), time.Hour))
	require.NoError(t, err)

	again, err := Open(ctx, kv, WithClock(fixedClock))
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), again.Snapshot())
}

func TestCorruptSnapshotIsQuarantined(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	garbage := []byte(`{"version":1,"state":{"mainSchedules":"nope"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, StorageKey+".json"), garbage, 0o600))

	s := openFileStore(t, dir)
	require.ErrorIs(t, s.LoadIssue(), ErrCorruptSnapshot)
	assert.Len(t, s.MainSchedules(), 3)

	quarantined, err := NewFileKV(dir).Get(ctx, StorageKey+".corrupt")
	require.NoError(t, err)
	assert.Equal(t, garbage, quarantined)
}

func TestResetDropsStateAndQuarantine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StorageKey+".json"), []byte("not json"), 0o600))

	s := openFileStore(t, dir)
	require.Error(t, s.LoadIssue())
	_, err := s.UpsertSubSchedule(ctx, sampleSub("after", time.Date(2024, 11, 19, 13, 0, 0, 0, kst), time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	assert.NoError(t, s.LoadIssue())
	assert.Empty(t, s.SubSchedules())
	assert.Len(t, s.MainSchedules(), 3)

	kv := NewFileKV(dir)
	_, err = kv.Get(ctx, StorageKey)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.Get(ctx, StorageKey+".corrupt")
	assert.ErrorIs(t, err, ErrNotFound)

	again := openFileStore(t, dir)
	assert.Equal(t, s.Snapshot(), again.Snapshot())
}

func TestUnknownVersionIsCorrupt(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"version":99,"state":{}}`))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	_, err = DecodeSnapshot([]byte(`not json`))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	_, err = DecodeSnapshot([]byte(`{"version":1,"state":{"mainSchedules":[{"main_schedule_id":5}],"nextMainScheduleId":2}}`))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestDeleteMainScheduleKeepsOrphans(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir())

	sub, err := s.UpsertSubSchedule(ctx, sampleSub("image build", time.Date(2024, 11, 18, 10, 0, 0, 0, kst), time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, sub.MainScheduleID)

	ok, err := s.DeleteMainSchedule(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	subs := s.SubSchedules()
	require.Len(t, subs, 1)
	assert.Equal(t, sub, subs[0])
	assert.Equal(t, model.DefaultMainTitle, s.MainTitleFor(subs[0]))

	ok, err = s.DeleteMainSchedule(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateMainSchedule(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir())

	title := "쿠버네티스공부"
	ok, err := s.UpdateMainSchedule(ctx, MainSchedulePatch{ID: 2, Title: &title})
	require.NoError(t, err)
	assert.True(t, ok)

	mains := s.MainSchedules()
	assert.Equal(t, title, mains[1].Title)
	assert.Equal(t, "#3357FF", mains[1].Color)
	assert.True(t, mains[1].UpdatedAt.Equal(fixedClock()))

	ok, err = s.UpdateMainSchedule(ctx, MainSchedulePatch{ID: 42, Title: &title})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertSubSchedule(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir())

	created, err := s.UpsertSubSchedule(ctx, sampleSub("draft", time.Date(2024, 11, 18, 10, 0, 0, 0, kst), time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	edited := created
	edited.SubScheduleTitle = "final"
	_, err = s.UpsertSubSchedule(ctx, edited)
	require.NoError(t, err)

	subs := s.SubSchedules()
	require.Len(t, subs, 1)
	assert.Equal(t, "final", subs[0].SubScheduleTitle)

	t.Run("missing main title falls back to default", func(t *testing.T) {
		in := sampleSub("untitled group", time.Date(2024, 11, 19, 10, 0, 0, 0, kst), time.Hour)
		in.MainScheduleTitle = ""
		got, err := s.UpsertSubSchedule(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultMainTitle, got.MainScheduleTitle)
		assert.Equal(t, 1, got.MainScheduleID)
	})

	t.Run("end before start is rejected", func(t *testing.T) {
		in := sampleSub("backwards", time.Date(2024, 11, 19, 10, 0, 0, 0, kst), -time.Hour)
		_, err := s.UpsertSubSchedule(ctx, in)
		var fe validate.FieldErrors
		require.ErrorAs(t, err, &fe)
		assert.Contains(t, fe, "end_time")
		assert.Len(t, s.SubSchedules(), 2)
	})
}

func TestDeleteSubScheduleClearsSelection(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir())

	sub, err := s.SaveSubSchedule(ctx, sampleSub("talk", time.Date(2024, 11, 21, 18, 0, 0, 0, kst), time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.SetSelectedSchedule(ctx, &sub))

	removed, ok, err := s.DeleteSubSchedule(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sub.ID, removed.ID)
	assert.Nil(t, s.SelectedSchedule())
	assert.Empty(t, s.SubSchedules())
}

func TestSelectableMainSchedules(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir())
	now := fixedClock()

	// one past and one ongoing sub schedule
	_, err := s.UpsertSubSchedule(ctx, sampleSub("old", now.Add(-48*time.Hour), time.Hour))
	require.NoError(t, err)
	spring := sampleSub("ongoing", now.Add(-time.Hour), 2*time.Hour)
	spring.MainScheduleTitle = "스프링공부"
	_, err = s.UpsertSubSchedule(ctx, spring)
	require.NoError(t, err)

	got := s.SelectableMainSchedules(now)
	require.Len(t, got, 1)
	assert.Equal(t, "스프링공부", got[0].Title)

	on, err := s.ToggleShowPastSchedules(ctx)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Len(t, s.SelectableMainSchedules(now), 3)
}

func TestEnsureMainSchedule(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir())
	start := time.Date(2024, 11, 18, 0, 0, 0, 0, kst)

	existing, created, err := s.EnsureMainSchedule(ctx, "도커공부", "#000000", start, start)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, existing.ID)

	fresh, created, err := s.EnsureMainSchedule(ctx, "운동", "#A27B5C", start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 4, fresh.ID)
	assert.Len(t, s.MainSchedules(), 4)
}

func TestMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir())
	start := time.Date(2024, 11, 18, 9, 0, 0, 0, kst)

	local := sampleSub("local", start, time.Hour)
	local.ID = "local-1"
	remote := sampleSub("remote", start.Add(2*time.Hour), time.Hour)
	remote.ID = "remote-1"
	require.NoError(t, s.InitializeSubSchedules(ctx, []model.SubSchedule{local, remote}))

	updated := remote
	updated.SubScheduleTitle = "remote v2"
	extra := sampleSub("remote new", start.Add(4*time.Hour), time.Hour)
	extra.ID = "remote-2"
	require.NoError(t, s.MergeSubSchedules(ctx, []model.SubSchedule{updated, extra}))

	subs := s.SubSchedules()
	require.Len(t, subs, 3)
	assert.Equal(t, "local", subs[0].SubScheduleTitle)
	assert.Equal(t, "remote v2", subs[1].SubScheduleTitle)
	assert.Equal(t, "remote-2", subs[2].ID)

	require.NoError(t, s.ReplaceWhere(ctx, func(sub model.SubSchedule) bool {
		return sub.ID != "local-1"
	}, nil))
	subs = s.SubSchedules()
	require.Len(t, subs, 1)
	assert.Equal(t, "local-1", subs[0].ID)
}

func TestReturnedSlicesAreCopies(t *testing.T) {
	s := openFileStore(t, t.TempDir())
	mains := s.MainSchedules()
	mains[0].Title = "changed"
	assert.Equal(t, model.DefaultMainTitle, s.MainSchedules()[0].Title)
}

func TestFileKVRejectsPathKeys(t *testing.T) {
	kv := NewFileKV(t.TempDir())
	err := kv.Set(context.Background(), "../escape", []byte("x"))
	assert.Error(t, err)

	_, err = kv.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
