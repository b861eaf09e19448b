package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"weekcal/internal/model"
	"weekcal/internal/weekgrid"
)

// FlexID accepts both JSON numbers and strings; the backend is not
// consistent about which it sends.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// RemoteSchedule is a goal as the backend returns it, with its sub schedules
// nested.
type RemoteSchedule struct {
	MainScheduleID FlexID              `json:"mainScheduleId,omitempty"`
	UserID         FlexID              `json:"userId,omitempty"`
	MainTitle      string              `json:"mainTitle"`
	Color          string              `json:"color"`
	StartTime      string              `json:"startTime"`
	EndTime        string              `json:"endTime"`
	SubSchedules   []RemoteSubSchedule `json:"subSchedules"`
}

// RemoteSubSchedule is a sub schedule on the wire.
type RemoteSubSchedule struct {
	SubScheduleID    FlexID `json:"subScheduleId,omitempty"`
	SubScheduleTitle string `json:"subScheduleTitle"`
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
	Description      string `json:"description,omitempty"`
	Color            string `json:"color,omitempty"`
}

// Skipped describes a remote record that could not be converted.
type Skipped struct {
	MainTitle string `json:"mainTitle"`
	SubTitle  string `json:"subTitle,omitempty"`
	Reason    string `json:"reason"`
}

var remoteNamespace = uuid.MustParse("6f1c1f0e-3a53-4b0c-9f54-2a8f4f3d7a10")

// ToModel converts backend schedules into sub schedules ready for the
// store, plus the goals they belong to. Timestamps without an offset are
// read in loc. Records with unusable timestamps are skipped and reported.
// Sub schedules without a backend id get one derived from their content,
// so repeated fetches address the same record.
func ToModel(list []RemoteSchedule, loc *time.Location) ([]model.MainSchedule, []model.SubSchedule, []Skipped) {
	var (
		mains   []model.MainSchedule
		subs    []model.SubSchedule
		skipped []Skipped
	)
	for _, rs := range list {
		title := strings.TrimSpace(rs.MainTitle)
		if title == "" {
			title = model.DefaultMainTitle
		}
		ms := model.MainSchedule{
			OwnerID: string(rs.UserID),
			Title:   title,
			Color:   rs.Color,
		}
		if t, err := weekgrid.ParseTimestamp(rs.StartTime, loc); err == nil {
			ms.StartTime = t
		}
		if t, err := weekgrid.ParseTimestamp(rs.EndTime, loc); err == nil {
			ms.EndTime = t
		}
		mains = append(mains, ms)

		for _, rsub := range rs.SubSchedules {
			start, err := weekgrid.ParseTimestamp(rsub.StartTime, loc)
			if err != nil {
				skipped = append(skipped, Skipped{MainTitle: title, SubTitle: rsub.SubScheduleTitle, Reason: err.Error()})
				continue
			}
			end, err := weekgrid.ParseTimestamp(rsub.EndTime, loc)
			if err != nil {
				skipped = append(skipped, Skipped{MainTitle: title, SubTitle: rsub.SubScheduleTitle, Reason: err.Error()})
				continue
			}
			if end.Before(start) {
				skipped = append(skipped, Skipped{MainTitle: title, SubTitle: rsub.SubScheduleTitle, Reason: "end time before start time"})
				continue
			}
			color := rsub.Color
			if color == "" {
				color = rs.Color
			}
			id := string(rsub.SubScheduleID)
			if id == "" {
				id = uuid.NewSHA1(remoteNamespace, []byte(title+"\x00"+rsub.SubScheduleTitle+"\x00"+start.UTC().Format(time.RFC3339Nano))).String()
			}
			subs = append(subs, model.SubSchedule{
				ID:                id,
				MainScheduleTitle: title,
				SubScheduleTitle:  rsub.SubScheduleTitle,
				StartTime:         start,
				EndTime:           end,
				Description:       rsub.Description,
				Color:             color,
			})
		}
	}
	return mains, subs, skipped
}

// FromModel builds the create-schedule payload for a goal and its sub
// schedules.
func FromModel(userID string, ms model.MainSchedule, subs []model.SubSchedule) CreateScheduleRequest {
	req := CreateScheduleRequest{
		UserID:       userID,
		MainTitle:    ms.Title,
		Color:        ms.Color,
		StartTime:    formatTime(ms.StartTime),
		EndTime:      formatTime(ms.EndTime),
		SubSchedules: make([]RemoteSubSchedule, 0, len(subs)),
	}
	for _, s := range subs {
		req.SubSchedules = append(req.SubSchedules, RemoteSubSchedule{
			SubScheduleID:    FlexID(s.ID),
			SubScheduleTitle: s.SubScheduleTitle,
			StartTime:        formatTime(s.StartTime),
			EndTime:          formatTime(s.EndTime),
			Description:      s.Description,
			Color:            s.Color,
		})
	}
	return req
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
