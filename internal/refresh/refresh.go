// Package refresh pulls remote schedules and subscribed feeds into the
// store on a cron schedule.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"weekcal/internal/api"
	"weekcal/internal/ics"
	appLog "weekcal/internal/log"
	"weekcal/internal/model"
	"weekcal/internal/store"
)

// WeekSource fetches the backend's schedules for a week.
type WeekSource interface {
	SpecificWeek(ctx context.Context, date time.Time) ([]api.RemoteSchedule, error)
}

// FeedFetcher downloads subscribed feeds.
type FeedFetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Options wire a Refresher. Remote, Fetcher and Capture are optional.
type Options struct {
	Store    *store.Store
	Remote   WeekSource
	LoggedIn func() bool
	Fetcher  FeedFetcher
	Sources  []ics.Source
	Location *time.Location
	// HorizonDays is how far ahead feed occurrences are imported.
	HorizonDays int
	// Capture, if set, runs after every refresh (preview snapshot).
	Capture func(ctx context.Context) error
	Now     func() time.Time
}

// Report summarizes one run.
type Report struct {
	StartedAt    time.Time      `json:"startedAt"`
	Duration     time.Duration  `json:"duration"`
	RemoteMerged int            `json:"remoteMerged"`
	Skipped      []api.Skipped  `json:"skipped,omitempty"`
	Feeds        map[string]int `json:"feeds,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
}

// Refresher runs refreshes; concurrent runs are serialized.
type Refresher struct {
	opts Options
	mu   sync.Mutex

	lastMu sync.RWMutex
	last   *Report
}

// New returns a Refresher.
func New(opts Options) *Refresher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 7
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoggedIn == nil {
		opts.LoggedIn = func() bool { return true }
	}
	return &Refresher{opts: opts}
}

// Last returns the report of the most recent run, if any.
func (r *Refresher) Last() *Report {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last
}

// RunOnce merges the backend's current week (when logged in), re-imports
// every feed and refreshes the preview. Failures of one step are recorded
// in the report and do not stop the others.
func (r *Refresher) RunOnce(ctx context.Context) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now().In(r.opts.Location)
	rep := Report{StartedAt: now, Feeds: map[string]int{}}
	fail := func(step string, err error) {
		appLog.Error("refresh step failed", err, "step", step)
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", step, err))
	}

	if r.opts.Remote != nil && r.opts.LoggedIn() {
		if err := r.pullRemote(ctx, now, &rep); err != nil {
			fail("remote", err)
		}
	}
	if r.opts.Fetcher != nil && len(r.opts.Sources) > 0 {
		r.pullFeeds(ctx, now, &rep, fail)
	}
	if r.opts.Capture != nil {
		if err := r.opts.Capture(ctx); err != nil {
			fail("capture", err)
		}
	}

	rep.Duration = r.opts.Now().Sub(now)
	appLog.Info("refresh done", "remote_merged", rep.RemoteMerged,
		"feeds", len(rep.Feeds), "errors", len(rep.Errors))

	r.lastMu.Lock()
	r.last = &rep
	r.lastMu.Unlock()
	return rep
}

func (r *Refresher) pullRemote(ctx context.Context, now time.Time, rep *Report) error {
	list, err := r.opts.Remote.SpecificWeek(ctx, now)
	if err != nil {
		return err
	}
	mains, subs, skipped := api.ToModel(list, r.opts.Location)
	rep.Skipped = skipped
	for _, s := range skipped {
		appLog.Error("refresh: remote record skipped", fmt.Errorf("%s", s.Reason),
			"main", s.MainTitle, "sub", s.SubTitle)
	}
	for _, ms := range mains {
		if _, _, err := r.opts.Store.EnsureMainSchedule(ctx, ms.Title, ms.Color, ms.StartTime, ms.EndTime); err != nil {
			return err
		}
	}
	if err := r.opts.Store.MergeSubSchedules(ctx, subs); err != nil {
		return err
	}
	rep.RemoteMerged = len(subs)
	return nil
}

func (r *Refresher) pullFeeds(ctx context.Context, now time.Time, rep *Report, fail func(string, error)) {
	results, errs := r.opts.Fetcher.FetchAll(ctx, r.opts.Sources)
	for _, err := range errs {
		fail("feed", err)
	}

	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, r.opts.Location)
	from = from.AddDate(0, 0, -((int(from.Weekday()) + 6) % 7))
	to := now.AddDate(0, 0, r.opts.HorizonDays)

	for _, res := range results {
		src := res.Source
		key := src.Key()
		if key == "" {
			fail("feed", fmt.Errorf("feed has neither id nor url"))
			continue
		}
		events, err := ics.ParseFeed(src, res.Body, r.opts.Location)
		if err != nil {
			fail("feed "+key, err)
			continue
		}
		exp, err := ics.Expand(events, ics.Window{Loc: r.opts.Location, From: from, To: to})
		if err != nil {
			fail("feed "+key, err)
			continue
		}

		title := src.Title()
		subs := ics.ToSubSchedules(exp.Occurrences, ics.ImportOptions{MainTitle: title, Color: src.Color})
		if _, _, err := r.opts.Store.EnsureMainSchedule(ctx, title, src.Color, from, to); err != nil {
			fail("feed "+key, err)
			continue
		}
		// Only this feed's previous import is replaced; entries filed under
		// the same goal by hand stay.
		err = r.opts.Store.ReplaceWhere(ctx, func(s model.SubSchedule) bool {
			return s.Source == key
		}, subs)
		if err != nil {
			fail("feed "+key, err)
			continue
		}
		rep.Feeds[key] = len(subs)
	}
}

// Start schedules RunOnce on spec (standard 5-field cron) until ctx ends.
// Runs that would overlap a still-running one are skipped.
func (r *Refresher) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLocation(r.opts.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() { r.RunOnce(ctx) }); err != nil {
		return nil, fmt.Errorf("refresh: bad schedule %q: %w", spec, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
	appLog.Info("refresh scheduler started", "schedule", spec)
	return c, nil
}
