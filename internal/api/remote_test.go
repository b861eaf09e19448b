package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weekcal/internal/model"
)

func TestToModel(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	var list []RemoteSchedule
	require.NoError(t, json.Unmarshal([]byte(`[
		{"mainScheduleId":1,"userId":102,"mainTitle":"도커공부","color":"#3357FF",
		 "startTime":"2024-01-01T00:00:00","endTime":"2024-02-01T00:00:00",
		 "subSchedules":[
			{"subScheduleId":11,"subScheduleTitle":"compose","startTime":"2024-01-03T09:00","endTime":"2024-01-03T10:30"},
			{"subScheduleTitle":"no id","startTime":"2024-01-04T09:00:00+09:00","endTime":"2024-01-04T10:00:00+09:00","color":"#A27B5C"},
			{"subScheduleTitle":"broken","startTime":"whenever","endTime":"2024-01-04T10:00"},
			{"subScheduleTitle":"backwards","startTime":"2024-01-05T10:00","endTime":"2024-01-05T09:00"}
		 ]},
		{"mainTitle":"","subSchedules":[]}
	]`), &list))

	mains, subs, skipped := ToModel(list, kst)

	require.Len(t, mains, 2)
	assert.Equal(t, "102", mains[0].OwnerID)
	assert.True(t, mains[0].StartTime.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, kst)))
	assert.Equal(t, model.DefaultMainTitle, mains[1].Title)

	require.Len(t, subs, 2)
	assert.Equal(t, "11", subs[0].ID)
	assert.Equal(t, "#3357FF", subs[0].Color)
	assert.True(t, subs[0].StartTime.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, kst)))
	assert.Equal(t, "#A27B5C", subs[1].Color)
	assert.NotEmpty(t, subs[1].ID)

	// Derived ids are stable across fetches.
	_, again, _ := ToModel(list, kst)
	assert.Equal(t, subs[1].ID, again[1].ID)

	require.Len(t, skipped, 2)
	assert.Equal(t, "broken", skipped[0].SubTitle)
	assert.Equal(t, "backwards", skipped[1].SubTitle)
}

func TestFromModel(t *testing.T) {
	start := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	req := FromModel("102", model.MainSchedule{Title: "운동", Color: "#A8C686", StartTime: start, EndTime: start.AddDate(0, 0, 7)},
		[]model.SubSchedule{{ID: "s1", SubScheduleTitle: "러닝", StartTime: start, EndTime: start.Add(time.Hour)}})

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"userId":"102","mainTitle":"운동","color":"#A8C686",
		"startTime":"2024-01-03T09:00:00Z","endTime":"2024-01-10T09:00:00Z",
		"subSchedules":[{"subScheduleId":"s1","subScheduleTitle":"러닝",
			"startTime":"2024-01-03T09:00:00Z","endTime":"2024-01-03T10:00:00Z"}]
	}`, string(data))
}
