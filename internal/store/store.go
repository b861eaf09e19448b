package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "weekcal/internal/log"
	"weekcal/internal/model"
	"weekcal/internal/validate"
)

// StorageKey is the fixed key the snapshot is persisted under.
const StorageKey = "schedule-storage"

// Store is the single source of truth for main and sub schedules.
//
// Every mutation swaps in freshly built slices and then writes the whole
// snapshot to the KV. A failed write is returned to the caller but the
// in-memory change stands; the next successful write catches up.
type Store struct {
	mu    sync.Mutex
	kv    KV
	key   string
	now   func() time.Time
	state Snapshot

	loadIssue error
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides time.Now for timestamps and status decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKey overrides StorageKey.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// Open loads the persisted snapshot from kv.
//
//   - absent key: seed defaults.
//   - corrupt blob: logged, moved to "<key>.corrupt", seed defaults; the
//     cause is available from LoadIssue.
//   - KV read failure: returned as an error.
func Open(ctx context.Context, kv KV, opts ...Option) (*Store, error) {
	s := &Store{kv: kv, key: StorageKey, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	data, err := kv.Get(ctx, s.key)
	switch {
	case errors.Is(err, ErrNotFound):
		appLog.Info("store: no persisted state, using seed", "key", s.key)
		s.state = seedSnapshot()
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", s.key, err)
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		s.loadIssue = err
		appLog.Error("store: persisted state is corrupt, quarantining and using seed", err,
			"key", s.key, "bytes", len(data))
		if qerr := kv.Set(ctx, s.key+".corrupt", data); qerr != nil {
			appLog.Error("store: quarantine failed", qerr, "key", s.key)
		}
		s.state = seedSnapshot()
		return s, nil
	}

	s.state = snap
	appLog.Info("store: state loaded", "key", s.key,
		"main_schedules", len(snap.MainSchedules), "sub_schedules", len(snap.SubSchedules))
	return s, nil
}

// LoadIssue reports why the persisted state was discarded on Open, if it was.
func (s *Store) LoadIssue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadIssue
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyState()
}

func (s *Store) copyState() Snapshot {
	out := s.state
	out.MainSchedules = slices.Clone(s.state.MainSchedules)
	out.SubSchedules = slices.Clone(s.state.SubSchedules)
	if s.state.SelectedSchedule != nil {
		sel := *s.state.SelectedSchedule
		out.SelectedSchedule = &sel
	}
	return out
}

// MainSchedules returns a copy of all main schedules.
func (s *Store) MainSchedules() []model.MainSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.MainSchedules)
}

// SubSchedules returns a copy of all sub schedules.
func (s *Store) SubSchedules() []model.SubSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.SubSchedules)
}

// SubSchedule looks up a sub schedule by id.
func (s *Store) SubSchedule(id string) (model.SubSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.subIndex(id)
	if i < 0 {
		return model.SubSchedule{}, false
	}
	return s.state.SubSchedules[i], true
}

// SelectedSchedule returns the focused sub schedule, if any.
func (s *Store) SelectedSchedule() *model.SubSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.SelectedSchedule == nil {
		return nil
	}
	sel := *s.state.SelectedSchedule
	return &sel
}

// ShowPastSchedules reports the dropdown visibility filter.
func (s *Store) ShowPastSchedules() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ShowPastSchedules
}

// AddMainSchedule appends ms with a fresh id. Titles are not checked for
// duplicates.
func (s *Store) AddMainSchedule(ctx context.Context, ms model.MainSchedule) (model.MainSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms = s.prepareMain(ms)
	next := s.copyState()
	next.MainSchedules = append(next.MainSchedules, ms)
	next.NextMainID = ms.ID + 1
	return ms, s.commit(ctx, next)
}

func (s *Store) prepareMain(ms model.MainSchedule) model.MainSchedule {
	now := canonical(s.now())
	if s.state.NextMainID <= 0 {
		s.state.NextMainID = 1
	}
	ms.ID = s.state.NextMainID
	ms.StartTime = canonical(ms.StartTime)
	ms.EndTime = canonical(ms.EndTime)
	if ms.CreatedAt.IsZero() {
		ms.CreatedAt = now
	} else {
		ms.CreatedAt = canonical(ms.CreatedAt)
	}
	ms.UpdatedAt = now
	return ms
}

// MainSchedulePatch carries the fields to merge into an existing main
// schedule. Nil fields are left unchanged.
type MainSchedulePatch struct {
	ID        int        `json:"main_schedule_id"`
	OwnerID   *string    `json:"user_id,omitempty"`
	Title     *string    `json:"title,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Color     *string    `json:"color,omitempty"`
}

// UpdateMainSchedule merges patch into the main schedule with patch.ID.
// It reports false, without error, when no such schedule exists.
func (s *Store) UpdateMainSchedule(ctx context.Context, patch MainSchedulePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.mainIndex(patch.ID)
	if i < 0 {
		return false, nil
	}
	next := s.copyState()
	ms := next.MainSchedules[i]
	if patch.OwnerID != nil {
		ms.OwnerID = *patch.OwnerID
	}
	if patch.Title != nil {
		ms.Title = *patch.Title
	}
	if patch.StartTime != nil {
		ms.StartTime = canonical(*patch.StartTime)
	}
	if patch.EndTime != nil {
		ms.EndTime = canonical(*patch.EndTime)
	}
	if patch.Color != nil {
		ms.Color = *patch.Color
	}
	ms.UpdatedAt = canonical(s.now())
	next.MainSchedules[i] = ms
	return true, s.commit(ctx, next)
}

// DeleteMainSchedule removes the main schedule with id. Sub schedules that
// reference it are kept and become orphans.
func (s *Store) DeleteMainSchedule(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.mainIndex(id)
	if i < 0 {
		return false, nil
	}
	next := s.copyState()
	next.MainSchedules = slices.Delete(next.MainSchedules, i, i+1)
	return true, s.commit(ctx, next)
}

// EnsureMainSchedule returns the first main schedule titled title, creating
// it when absent. This is the path taken when a user types a new goal name
// while editing a sub schedule.
func (s *Store) EnsureMainSchedule(ctx context.Context, title, color string, start, end time.Time) (model.MainSchedule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ms := range s.state.MainSchedules {
		if ms.Title == title {
			return ms, false, nil
		}
	}
	ms := s.prepareMain(model.MainSchedule{
		Title:     title,
		Color:     color,
		StartTime: start,
		EndTime:   end,
	})
	next := s.copyState()
	next.MainSchedules = append(next.MainSchedules, ms)
	next.NextMainID = ms.ID + 1
	return ms, true, s.commit(ctx, next)
}

// UpsertSubSchedule validates sub and stores it. An empty ID creates a new
// entry with a fresh UUID; a known ID replaces that entry; an unknown ID is
// inserted as given. Validation failures are returned as
// validate.FieldErrors and leave the store untouched.
func (s *Store) UpsertSubSchedule(ctx context.Context, sub model.SubSchedule) (model.SubSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub = s.resolveMain(sub)
	if errs := validate.All(validate.SubScheduleForm{
		MainScheduleTitle: sub.MainScheduleTitle,
		SubScheduleTitle:  sub.SubScheduleTitle,
		StartTime:         sub.StartTime,
		EndTime:           sub.EndTime,
		Description:       sub.Description,
		Color:             sub.Color,
	}); !errs.OK() {
		return model.SubSchedule{}, errs
	}

	sub.StartTime = canonical(sub.StartTime)
	sub.EndTime = canonical(sub.EndTime)
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	next := s.copyState()
	if i := s.subIndex(sub.ID); i >= 0 {
		next.SubSchedules[i] = sub
	} else {
		next.SubSchedules = append(next.SubSchedules, sub)
	}
	if next.SelectedSchedule != nil && next.SelectedSchedule.ID == sub.ID {
		sel := sub
		next.SelectedSchedule = &sel
	}
	return sub, s.commit(ctx, next)
}

// SaveSubSchedule stores a newly created sub schedule. It is UpsertSubSchedule
// under the name the editing forms use.
func (s *Store) SaveSubSchedule(ctx context.Context, sub model.SubSchedule) (model.SubSchedule, error) {
	return s.UpsertSubSchedule(ctx, sub)
}

// resolveMain fills whichever of MainScheduleID / MainScheduleTitle is
// missing from the other, falling back to the default group title.
func (s *Store) resolveMain(sub model.SubSchedule) model.SubSchedule {
	if sub.MainScheduleID != 0 && sub.MainScheduleTitle == "" {
		if i := s.mainIndex(sub.MainScheduleID); i >= 0 {
			sub.MainScheduleTitle = s.state.MainSchedules[i].Title
		}
	}
	if sub.MainScheduleTitle == "" {
		sub.MainScheduleTitle = model.DefaultMainTitle
	}
	if sub.MainScheduleID == 0 {
		for _, ms := range s.state.MainSchedules {
			if ms.Title == sub.MainScheduleTitle {
				sub.MainScheduleID = ms.ID
				break
			}
		}
	}
	return sub
}

// DeleteSubSchedule removes the sub schedule with id and returns it.
func (s *Store) DeleteSubSchedule(ctx context.Context, id string) (model.SubSchedule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.subIndex(id)
	if i < 0 {
		return model.SubSchedule{}, false, nil
	}
	removed := s.state.SubSchedules[i]
	next := s.copyState()
	next.SubSchedules = slices.Delete(next.SubSchedules, i, i+1)
	if next.SelectedSchedule != nil && next.SelectedSchedule.ID == id {
		next.SelectedSchedule = nil
	}
	return removed, true, s.commit(ctx, next)
}

// InitializeSubSchedules replaces every sub schedule with list, as done
// after a remote fetch. Entries without an ID are assigned one.
func (s *Store) InitializeSubSchedules(ctx context.Context, list []model.SubSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyState()
	next.SubSchedules = s.normalizeSubs(list)
	return s.commit(ctx, next)
}

// MergeSubSchedules replaces entries whose ID appears in list and appends
// the rest, leaving unrelated local entries in place.
func (s *Store) MergeSubSchedules(ctx context.Context, list []model.SubSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := s.normalizeSubs(list)
	byID := make(map[string]int, len(incoming))
	for i, sub := range incoming {
		byID[sub.ID] = i
	}

	next := s.copyState()
	merged := make([]model.SubSchedule, 0, len(next.SubSchedules)+len(incoming))
	for _, cur := range next.SubSchedules {
		if i, ok := byID[cur.ID]; ok {
			merged = append(merged, incoming[i])
			delete(byID, cur.ID)
			continue
		}
		merged = append(merged, cur)
	}
	for _, sub := range incoming {
		if _, pending := byID[sub.ID]; pending {
			merged = append(merged, sub)
		}
	}
	next.SubSchedules = merged
	return s.commit(ctx, next)
}

// ReplaceWhere drops every sub schedule matching match and appends list.
// Subscribed feeds use it to swap their previous import for a fresh one.
func (s *Store) ReplaceWhere(ctx context.Context, match func(model.SubSchedule) bool, list []model.SubSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyState()
	kept := make([]model.SubSchedule, 0, len(next.SubSchedules)+len(list))
	for _, sub := range next.SubSchedules {
		if !match(sub) {
			kept = append(kept, sub)
		}
	}
	next.SubSchedules = append(kept, s.normalizeSubs(list)...)
	return s.commit(ctx, next)
}

func (s *Store) normalizeSubs(list []model.SubSchedule) []model.SubSchedule {
	out := make([]model.SubSchedule, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, sub := range list {
		sub = s.resolveMain(sub)
		sub.StartTime = canonical(sub.StartTime)
		sub.EndTime = canonical(sub.EndTime)
		if sub.ID == "" {
			sub.ID = uuid.NewString()
		}
		if _, dup := seen[sub.ID]; dup {
			continue
		}
		seen[sub.ID] = struct{}{}
		out = append(out, sub)
	}
	return out
}

// SetSelectedSchedule focuses sub for detail/edit panels; nil clears it.
func (s *Store) SetSelectedSchedule(ctx context.Context, sub *model.SubSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyState()
	if sub == nil {
		next.SelectedSchedule = nil
	} else {
		sel := *sub
		next.SelectedSchedule = &sel
	}
	return s.commit(ctx, next)
}

// ToggleShowPastSchedules flips the filter and returns its new value.
func (s *Store) ToggleShowPastSchedules(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyState()
	next.ShowPastSchedules = !next.ShowPastSchedules
	return next.ShowPastSchedules, s.commit(ctx, next)
}

// SelectableMainSchedules lists the goals offered in selection dropdowns.
// With show-past off, a goal is listed only while at least one of its sub
// schedules has not ended.
func (s *Store) SelectableMainSchedules(now time.Time) []model.MainSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.ShowPastSchedules {
		return slices.Clone(s.state.MainSchedules)
	}
	out := make([]model.MainSchedule, 0, len(s.state.MainSchedules))
	for _, ms := range s.state.MainSchedules {
		for _, sub := range s.state.SubSchedules {
			related := sub.MainScheduleID == ms.ID ||
				(sub.MainScheduleID == 0 && sub.MainScheduleTitle == ms.Title)
			if related && sub.Status(now) == model.StatusInProgress {
				out = append(out, ms)
				break
			}
		}
	}
	return out
}

// MainTitleFor resolves the group title sub is displayed under. Dangling
// references fall back to model.DefaultMainTitle.
func (s *Store) MainTitleFor(sub model.SubSchedule) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.MainScheduleID != 0 {
		if i := s.mainIndex(sub.MainScheduleID); i >= 0 {
			return s.state.MainSchedules[i].Title
		}
	}
	for _, ms := range s.state.MainSchedules {
		if ms.Title == sub.MainScheduleTitle {
			return ms.Title
		}
	}
	return model.DefaultMainTitle
}

// Reset drops the persisted snapshot and any quarantined copy, then goes
// back to the seed state. The seed is not written until the next mutation.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{s.key, s.key + ".corrupt"} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
	}
	s.state = seedSnapshot()
	s.loadIssue = nil
	appLog.Info("store: state reset to seed", "key", s.key)
	return nil
}

// Now exposes the store clock so callers derive status consistently.
func (s *Store) Now() time.Time { return s.now() }

// Close releases the KV.
func (s *Store) Close() error { return s.kv.Close() }

func (s *Store) mainIndex(id int) int {
	return slices.IndexFunc(s.state.MainSchedules, func(ms model.MainSchedule) bool { return ms.ID == id })
}

func (s *Store) subIndex(id string) int {
	return slices.IndexFunc(s.state.SubSchedules, func(sub model.SubSchedule) bool { return sub.ID == id })
}

// commit installs next and persists it. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next Snapshot) error {
	s.state = next
	data, err := EncodeSnapshot(next)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		appLog.Error("store: persist failed", err, "key", s.key)
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// canonical drops the monotonic reading and normalizes to UTC so stored
// values survive a persistence round trip unchanged.
func canonical(t time.Time) time.Time {
	return t.Round(0).UTC()
}
