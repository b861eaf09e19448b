package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"weekcal/internal/model"
)

// ErrCorruptSnapshot wraps any failure to decode a persisted snapshot.
var ErrCorruptSnapshot = errors.New("store: corrupt snapshot")

// snapshotVersion is bumped whenever Snapshot changes incompatibly.
const snapshotVersion = 1

// Snapshot is the persisted state of the store. Timestamp fields are typed
// as time.Time so decoding is driven by the schema, not by key names.
type Snapshot struct {
	MainSchedules     []model.MainSchedule `json:"mainSchedules"`
	SubSchedules      []model.SubSchedule  `json:"subschedules"`
	SelectedSchedule  *model.SubSchedule   `json:"selectedSchedule"`
	ShowPastSchedules bool                 `json:"showPastSchedules"`
	NextMainID        int                  `json:"nextMainScheduleId"`
}

type envelope struct {
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

// EncodeSnapshot serializes s inside a versioned envelope.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	state, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: snapshotVersion, State: state})
}

// DecodeSnapshot parses data produced by EncodeSnapshot. Every failure is
// reported as ErrCorruptSnapshot with the cause attached.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if env.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, env.Version)
	}
	if len(env.State) == 0 || string(env.State) == "null" {
		return Snapshot{}, fmt.Errorf("%w: missing state", ErrCorruptSnapshot)
	}

	var s Snapshot
	if err := json.Unmarshal(env.State, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if err := s.check(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return s, nil
}

// check rejects states the store could not have produced.
func (s Snapshot) check() error {
	seenMain := make(map[int]struct{}, len(s.MainSchedules))
	for _, ms := range s.MainSchedules {
		if ms.ID <= 0 {
			return fmt.Errorf("main schedule %q has no id", ms.Title)
		}
		if _, dup := seenMain[ms.ID]; dup {
			return fmt.Errorf("duplicate main schedule id %d", ms.ID)
		}
		seenMain[ms.ID] = struct{}{}
		if ms.ID >= s.NextMainID {
			return fmt.Errorf("main schedule id %d not below next id %d", ms.ID, s.NextMainID)
		}
	}
	seenSub := make(map[string]struct{}, len(s.SubSchedules))
	for _, sub := range s.SubSchedules {
		if sub.ID == "" {
			return fmt.Errorf("sub schedule %q has no id", sub.SubScheduleTitle)
		}
		if _, dup := seenSub[sub.ID]; dup {
			return fmt.Errorf("duplicate sub schedule id %s", sub.ID)
		}
		seenSub[sub.ID] = struct{}{}
	}
	return nil
}
