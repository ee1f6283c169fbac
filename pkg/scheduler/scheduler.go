// Package scheduler runs the single control loop that ticks on a
// configurable cadence, gates time-based tasks (market hours, once-per-day,
// once-per-week), polls filings through pkg/filing and pkg/agentreg
// (submitting each filing's dispatch to the shared worker pool), and runs
// the registered scheduled agents one after another.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/medxprts/spacmon/pkg/agentreg"
	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/entity"
	"github.com/medxprts/spacmon/pkg/filing"
	"github.com/medxprts/spacmon/pkg/llm"
	"github.com/medxprts/spacmon/pkg/newsfeed"
	"github.com/medxprts/spacmon/pkg/state"
	"github.com/medxprts/spacmon/pkg/workerpool"
)

// priceMonitorOnlyFallback is the conservative agent set run when the LLM
// advisory pass returns a malformed response: price-sensitive monitoring
// never stops, everything else waits for the next tick.
var priceMonitorOnlyFallback = []string{"PriceMonitor"}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// taskGate decides whether a named recurring task should run on this tick.
// Implementations consult the state store for the task's last-run time and
// a cron-style schedule.
type taskGate struct {
	name     string
	schedule cron.Schedule
}

func newTaskGate(name, cronExpr string) (taskGate, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return taskGate{}, fmt.Errorf("scheduler: invalid cron expression for %s: %w", name, err)
	}
	return taskGate{name: name, schedule: sched}, nil
}

func (g taskGate) due(lastRun time.Time, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return !g.schedule.Next(lastRun).After(now)
}

// Poller is the narrow filing-poll dependency, satisfied by *filing.Poller.
type Poller interface {
	PollEntity(ctx context.Context, ticker, cik string) ([]filing.Event, error)
}

// Dispatcher is the narrow agent-dispatch dependency, satisfied by
// *agentreg.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, research agentreg.ResearchPort, notify agentreg.NotifyPort, f agentreg.Filing) []agentreg.TaskRecord
}

// StateStore is the narrow key/value dependency the scheduler needs,
// satisfied by both *state.Store and *state.MonitoredWriter so callers can
// opt into write-failure monitoring without the scheduler caring which.
type StateStore interface {
	Get(ctx context.Context, namespace, key string) (json.RawMessage, error)
	Put(ctx context.Context, namespace, key string, value any) error
}

// Scheduler runs the single control goroutine described above.
type Scheduler struct {
	cfg         *config.Defaults
	marketHours *config.MarketHoursConfig
	store       StateStore
	entities    entity.Repository
	poller      Poller
	dispatcher  Dispatcher
	research    agentreg.ResearchPort
	notify      agentreg.NotifyPort
	triggers    newsfeed.EventTrigger
	pool        *workerpool.Pool
	llm         *llm.Client

	scheduledAgents []agentreg.ScheduledAgent
	gatedTasks      []gatedTask
	gates           map[string]taskGate
	triggerCursor   int64

	log *slog.Logger
}

// gatedTask is a once-per-day/week task run outside the market-hours gate,
// eligible only when its named cron gate is due.
type gatedTask struct {
	name     string
	gateName string
	run      func(ctx context.Context) error
}

// Deps bundles the Scheduler's collaborators. LLMClient is optional; when
// nil, every registered scheduled agent runs on every market-hours tick.
type Deps struct {
	Defaults    *config.Defaults
	MarketHours *config.MarketHoursConfig
	Store       StateStore
	Entities    entity.Repository
	Poller      Poller
	Dispatcher  Dispatcher
	Research    agentreg.ResearchPort
	Notify      agentreg.NotifyPort
	Triggers    newsfeed.EventTrigger
	Pool        *workerpool.Pool
	LLMClient   *llm.Client
}

// New creates a Scheduler with the once-per-day and once-per-week task
// gates spec.md requires.
func New(deps Deps) (*Scheduler, error) {
	dailyGate, err := newTaskGate("daily_sweep", "0 13 * * *")
	if err != nil {
		return nil, err
	}
	weeklyGate, err := newTaskGate("weekly_digest", "0 13 * * 1")
	if err != nil {
		return nil, err
	}
	dailyDigestGate, err := newTaskGate("daily_digest", "55 23 * * *")
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		cfg:         deps.Defaults,
		marketHours: deps.MarketHours,
		store:       deps.Store,
		entities:    deps.Entities,
		poller:      deps.Poller,
		dispatcher:  deps.Dispatcher,
		research:    deps.Research,
		notify:      deps.Notify,
		triggers:    deps.Triggers,
		pool:        deps.Pool,
		llm:         deps.LLMClient,
		gates: map[string]taskGate{
			"daily_sweep":   dailyGate,
			"weekly_digest": weeklyGate,
			"daily_digest":  dailyDigestGate,
		},
		log: slog.With("component", "scheduler"),
	}, nil
}

// RegisterScheduledAgent adds a agent to the set run on every market-hours
// tick that the LLM advisory pass (when configured) allows. The scheduler
// keeps no per-agent cadence gate; agents decide their own cadence by
// checking NamespaceSchedulerLastRun themselves if they need finer control
// than the tick period.
func (s *Scheduler) RegisterScheduledAgent(a agentreg.ScheduledAgent) {
	s.scheduledAgents = append(s.scheduledAgents, a)
}

// RegisterGatedTask adds a task that runs once per gate period (daily_sweep,
// weekly_digest, or daily_digest) regardless of market hours, used for the
// validation sweep and the daily digest.
func (s *Scheduler) RegisterGatedTask(name, gateName string, run func(ctx context.Context) error) {
	s.gatedTasks = append(s.gatedTasks, gatedTask{name: name, gateName: gateName, run: run})
}

// Run blocks, ticking every cfg.SchedulerTickInterval until ctx is
// cancelled. Each tick is independent; a panic or error in one tick never
// prevents the next.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SchedulerTickInterval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// Tick runs exactly one scheduler cycle and returns, for callers that want
// a single pass rather than Run's blocking loop (e.g. a one-shot CLI
// invocation).
func (s *Scheduler) Tick(ctx context.Context) error {
	s.runTick(ctx)
	return nil
}

func (s *Scheduler) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panicked", "recovered", r)
		}
	}()

	now := time.Now()
	s.log.Debug("scheduler tick", "time", now)

	s.consumeTriggers(ctx)
	s.pollFilings(ctx)
	s.runGatedTasks(ctx, now)
	s.runDueDailyTasks(ctx)

	if err := s.store.Put(ctx, state.NamespaceSchedulerLastRun, "tick", now); err != nil {
		s.log.Warn("failed to record scheduler last-run timestamp", "error", err)
	}
}

// consumeTriggers reads external event triggers (news, price) raised since
// the last tick and stamps accelerated_polling_until on the named ticker.
func (s *Scheduler) consumeTriggers(ctx context.Context) {
	if s.triggers == nil {
		return
	}
	records, err := s.triggers.Since(ctx, s.triggerCursor)
	if err != nil {
		s.log.Warn("failed to read event triggers", "error", err)
		return
	}
	for _, rec := range records {
		s.triggerCursor = rec.ID
		until := time.Now().Add(s.cfg.NewsAcceleratedDuration)
		if err := s.entities.Mutate(ctx, rec.Trigger.Ticker, "accelerated_polling_until", until, "scheduler.trigger", "", entity.ChangeTypeManual); err != nil {
			s.log.Warn("failed to stamp accelerated polling from trigger", "ticker", rec.Trigger.Ticker, "error", err)
		}
	}
}

// pollFilings polls every tracked entity not yet completed/liquidated/delisted,
// consulting each entity's accelerated_polling_until to decide whether it's
// due this tick, then dispatches any new filings found.
func (s *Scheduler) pollFilings(ctx context.Context) {
	entities, err := s.entities.ListWhere(ctx, func(e *entity.Entity) bool {
		return e.Status != entity.StatusCompleted && e.Status != entity.StatusLiquidated && e.Status != entity.StatusDelisted
	})
	if err != nil {
		s.log.Error("failed to list trackable entities", "error", err)
		return
	}

	for _, e := range entities {
		if e.CIK == "" {
			continue
		}
		if !s.pollDue(ctx, e) {
			continue
		}

		events, err := s.poller.PollEntity(ctx, e.Ticker, e.CIK)
		if err != nil {
			s.log.Warn("filing poll failed", "ticker", e.Ticker, "error", err)
			continue
		}
		for _, ev := range events {
			s.submitDispatch(ev)
		}
		time.Sleep(s.cfg.FeedRequestInterval)
	}
}

func (s *Scheduler) pollDue(ctx context.Context, e *entity.Entity) bool {
	interval := s.cfg.FilingPollInterval
	if e.AcceleratedPollingUntil != nil && e.AcceleratedPollingUntil.After(time.Now()) {
		interval = s.cfg.FilingPollIntervalAccelerated
	}

	raw, err := s.store.Get(ctx, state.NamespaceFilingCursor, e.Ticker)
	if err == state.ErrNotFound {
		_ = s.store.Put(ctx, state.NamespaceFilingCursor, e.Ticker, time.Now())
		return true
	}
	if err != nil {
		s.log.Warn("failed to read filing cursor, polling anyway", "ticker", e.Ticker, "error", err)
		return true
	}

	var lastPoll time.Time
	if err := jsonUnmarshalTime(raw, &lastPoll); err != nil {
		return true
	}
	due := time.Since(lastPoll) >= interval
	if due {
		_ = s.store.Put(ctx, state.NamespaceFilingCursor, e.Ticker, time.Now())
	}
	return due
}

// submitDispatch classifies and dispatches a filing event. When a worker
// pool is configured, cross-filing dispatch runs concurrently; within one
// filing, dispatch is always sequential (see pkg/agentreg).
func (s *Scheduler) submitDispatch(ev filing.Event) {
	task := func(ctx context.Context) {
		f := agentreg.Filing{Event: ev}
		s.dispatcher.Dispatch(ctx, s.research, s.notify, f)
	}
	if s.pool != nil {
		s.pool.Submit(task)
		return
	}
	task(context.Background())
}

// runGatedTasks runs the registered scheduled agents, in registration
// order, when now falls within market hours, skipping any agent the LLM
// advisory pass did not select.
func (s *Scheduler) runGatedTasks(ctx context.Context, now time.Time) {
	if !s.inMarketHours(now) {
		return
	}

	allowed := s.advise(ctx)
	for _, a := range s.scheduledAgents {
		if allowed != nil && !allowed[a.Name()] {
			continue
		}
		if err := a.Run(ctx, s.research, s.notify); err != nil {
			s.log.Error("scheduled agent failed", "agent", a.Name(), "error", err)
		}
	}
}

// runDueDailyTasks runs every registered gated task whose own cadence gate
// is due. Unlike per-tick scheduled agents, these never consult the
// market-hours gate: a validation sweep or a digest is equally valid after
// close.
func (s *Scheduler) runDueDailyTasks(ctx context.Context) {
	for _, t := range s.gatedTasks {
		if !s.DueForGate(ctx, t.gateName) {
			continue
		}
		if err := t.run(ctx); err != nil {
			s.log.Error("gated task failed", "task", t.name, "error", err)
			continue
		}
		if err := s.MarkGateRun(ctx, t.gateName); err != nil {
			s.log.Warn("failed to record gate run", "task", t.name, "error", err)
		}
	}
}

// advise asks the LLM which registered scheduled agents are worth running
// this tick, given current conditions. Returns nil (meaning "run
// everything") when no LLM client is configured. A malformed or
// unparseable response falls back to the price-monitor-only set rather
// than running nothing or everything.
func (s *Scheduler) advise(ctx context.Context) map[string]bool {
	if s.llm == nil {
		return nil
	}

	names := make([]string, 0, len(s.scheduledAgents))
	for _, a := range s.scheduledAgents {
		names = append(names, a.Name())
	}

	raw, err := s.llm.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You advise a SPAC monitoring scheduler on which agents are worth running this tick. Respond with strict JSON only: {\"run\": [agent_name, ...]}."},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Registered scheduled agents: %v\nReturn the subset worth running now.", names)},
	})
	if err != nil {
		s.log.Warn("scheduler advisory call failed, falling back to price monitor only", "error", err)
		return toSet(priceMonitorOnlyFallback)
	}

	var resp struct {
		Run []string `json:"run"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || len(resp.Run) == 0 {
		s.log.Warn("scheduler advisory response malformed, falling back to price monitor only")
		return toSet(priceMonitorOnlyFallback)
	}
	return toSet(resp.Run)
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// inMarketHours reports whether now falls within the configured exchange
// trading window, Mon-Fri.
func (s *Scheduler) inMarketHours(now time.Time) bool {
	if s.marketHours == nil {
		return true
	}
	loc, err := time.LoadLocation(s.marketHours.Timezone)
	if err != nil {
		s.log.Warn("invalid market hours timezone, treating as always open", "timezone", s.marketHours.Timezone, "error", err)
		return true
	}
	local := now.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	open, err := time.ParseInLocation("15:04", s.marketHours.Open, loc)
	if err != nil {
		return true
	}
	closeT, err := time.ParseInLocation("15:04", s.marketHours.Close, loc)
	if err != nil {
		return true
	}

	openToday := time.Date(local.Year(), local.Month(), local.Day(), open.Hour(), open.Minute(), 0, 0, loc)
	closeToday := time.Date(local.Year(), local.Month(), local.Day(), closeT.Hour(), closeT.Minute(), 0, 0, loc)
	return !local.Before(openToday) && !local.After(closeToday)
}

// DueForGate reports whether the named daily/weekly task gate is due. It
// records nothing; callers record a successful run via MarkGateRun.
func (s *Scheduler) DueForGate(ctx context.Context, name string) bool {
	gate, ok := s.gates[name]
	if !ok {
		return false
	}
	raw, err := s.store.Get(ctx, state.NamespaceSchedulerLastRun, name)
	if err != nil && err != state.ErrNotFound {
		s.log.Warn("failed to read gate last-run", "gate", name, "error", err)
		return false
	}
	var lastRun time.Time
	if err == nil {
		_ = jsonUnmarshalTime(raw, &lastRun)
	}
	return gate.due(lastRun, time.Now())
}

// MarkGateRun records that the named gate ran at now.
func (s *Scheduler) MarkGateRun(ctx context.Context, name string) error {
	return s.store.Put(ctx, state.NamespaceSchedulerLastRun, name, time.Now())
}

func jsonUnmarshalTime(raw []byte, t *time.Time) error {
	return t.UnmarshalJSON(raw)
}
