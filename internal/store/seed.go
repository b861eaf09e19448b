package store

import (
	"time"

	"weekcal/internal/model"
)

// seedSnapshot is used when nothing usable is persisted yet.
func seedSnapshot() Snapshot {
	kst := time.FixedZone("KST", 9*60*60)
	at := func(y int, m time.Month, d, h int) time.Time {
		return canonical(time.Date(y, m, d, h, 0, 0, 0, kst))
	}

	mains := []model.MainSchedule{
		{
			ID: 1, OwnerID: "102", Title: model.DefaultMainTitle,
			StartTime: at(2023, 11, 17, 14), EndTime: at(2029, 11, 17, 15),
			Color:     "#33FF57",
			CreatedAt: at(2023, 11, 5, 10), UpdatedAt: at(2023, 11, 10, 14),
		},
		{
			ID: 2, OwnerID: "101", Title: "도커공부",
			StartTime: at(2023, 11, 18, 16), EndTime: at(2026, 11, 18, 17),
			Color:     "#3357FF",
			CreatedAt: at(2023, 11, 6, 14), UpdatedAt: at(2023, 11, 12, 16),
		},
		{
			ID: 3, OwnerID: "101", Title: "스프링공부",
			StartTime: at(2023, 11, 19, 10), EndTime: at(2023, 11, 19, 12),
			Color:     "#FF33A8",
			CreatedAt: at(2023, 11, 7, 9), UpdatedAt: at(2023, 11, 13, 11),
		},
	}

	return Snapshot{
		MainSchedules: mains,
		SubSchedules:  []model.SubSchedule{},
		NextMainID:    len(mains) + 1,
	}
}

// PredefinedColors is the palette offered when recoloring AI suggestions.
var PredefinedColors = []string{
	"#A27B5C",
	"#6C92A8",
	"#DAB894",
	"#91A8D0",
	"#A8C686",
	"#D9C2AD",
	"#7C9A92",
	"#9F8170",
}
