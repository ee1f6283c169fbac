// Package agentreg holds the two disjoint agent registries described in
// the scheduler design — scheduled agents that run on a cadence over the
// whole entity set, and filing agents triggered by a specific classified
// filing — plus the dispatcher that fans a classified filing out to its
// relevant filing agents.
package agentreg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/medxprts/spacmon/pkg/classifier"
	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/entity"
	"github.com/medxprts/spacmon/pkg/filing"
	"github.com/medxprts/spacmon/pkg/httpclient"
	"github.com/medxprts/spacmon/pkg/llm"
	"github.com/medxprts/spacmon/pkg/workerpool"
)

// ResearchPort is the narrow read surface agents get instead of a
// back-pointer to the orchestrator: entity lookups and raw HTTP fetches
// for opportunistic exhibit/document reads.
type ResearchPort interface {
	ByTicker(ctx context.Context, ticker string) (*entity.Entity, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// NotifyPort is the narrow write surface agents get for raising outbound
// signals without depending on the alert package directly.
type NotifyPort interface {
	Notify(ctx context.Context, ticker, kind, detail string) error
}

// Filing is a classified filing event handed to filing agents. Body is
// fetched at most once and attached here before dispatch.
type Filing struct {
	Event          filing.Event
	Classification classifier.Result
}

// TaskStatus mirrors the Agent Task lifecycle: pending, in-progress,
// completed, failed, or skipped.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusSkipped    TaskStatus = "skipped"
)

// Result is what a FilingAgent returns from Process.
type Result struct {
	Status  TaskStatus
	Detail  string
	Err     error
}

// FilingAgent is triggered by a specific classified filing event. Each
// agent's write path must be idempotent on its own key (e.g. ticker, field,
// source filing id) since agents are dispatched at-least-once.
type FilingAgent interface {
	Name() string
	Process(ctx context.Context, f Filing, research ResearchPort, notify NotifyPort) Result
}

// ScheduledAgent runs on a cadence over the entire tracked-entity set.
type ScheduledAgent interface {
	Name() string
	Run(ctx context.Context, research ResearchPort, notify NotifyPort) error
}

// Registry holds the two disjoint agent sets, keyed by name.
type Registry struct {
	filingAgents    map[string]FilingAgent
	scheduledAgents map[string]ScheduledAgent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		filingAgents:    make(map[string]FilingAgent),
		scheduledAgents: make(map[string]ScheduledAgent),
	}
}

// RegisterFilingAgent adds a to the filing-agent registry, keyed by a.Name().
func (r *Registry) RegisterFilingAgent(a FilingAgent) {
	r.filingAgents[a.Name()] = a
}

// RegisterScheduledAgent adds a to the scheduled-agent registry.
func (r *Registry) RegisterScheduledAgent(a ScheduledAgent) {
	r.scheduledAgents[a.Name()] = a
}

// ScheduledAgents returns every registered scheduled agent.
func (r *Registry) ScheduledAgents() []ScheduledAgent {
	agents := make([]ScheduledAgent, 0, len(r.scheduledAgents))
	for _, a := range r.scheduledAgents {
		agents = append(agents, a)
	}
	return agents
}

// TaskRecord is the durable record of one dispatched filing-agent invocation.
type TaskRecord struct {
	AgentName string
	Ticker    string
	FilingID  string
	Priority  config.Priority
	Status    TaskStatus
	Detail    string
	StartedAt time.Time
	EndedAt   time.Time
}

// FilingLogger is the durable sink the dispatcher writes to once all agent
// tasks for a filing have finished. Only a successful insert (or a
// unique-violation indicating a duplicate) authorizes marking the filing
// seen.
type FilingLogger interface {
	// Log inserts the filing row. ErrDuplicate indicates the filing was
	// already logged (e.g. a retried poll); it is treated the same as
	// success for the purpose of marking filing.seen.
	Log(ctx context.Context, f Filing) error
}

// ErrDuplicateFiling is returned by a FilingLogger when the filing's
// identity already exists in the log (unique-constraint violation).
var ErrDuplicateFiling = fmt.Errorf("agentreg: filing already logged")

// SeenMarker marks a filing id as seen for a ticker. Only the dispatcher
// calls this — never the poller — and only after a successful or
// duplicate-violation log insert.
type SeenMarker interface {
	MarkSeen(ctx context.Context, ticker, filingID string) error
}

// Dispatcher fans a classified filing out to its relevant filing agents,
// fetching the body once if it isn't already attached, optionally refining
// relevance with an LLM call, then logs the filing and marks it seen.
type Dispatcher struct {
	registry *Registry
	http     *httpclient.Client
	llm      *llm.Client
	logger   FilingLogger
	seen     SeenMarker
	pool     *workerpool.Pool
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher. llmClient may be nil, in which case
// relevance refinement is skipped and all routed agents run.
func NewDispatcher(registry *Registry, httpClient *httpclient.Client, llmClient *llm.Client, logger FilingLogger, seen SeenMarker, pool *workerpool.Pool) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		http:     httpClient,
		llm:      llmClient,
		logger:   logger,
		seen:     seen,
		pool:     pool,
		log:      slog.With("component", "agentreg.dispatcher"),
	}
}

// Dispatch processes one classified filing: fetch-once, optional relevance
// refinement, sequential per-filing agent dispatch, then log + mark-seen.
// Agent dispatch for different filings may run concurrently; within one
// filing, agents always run sequentially so idempotent writers never race
// against each other for the same ticker.
func (d *Dispatcher) Dispatch(ctx context.Context, research ResearchPort, notify NotifyPort, f Filing) []TaskRecord {
	d.fetchOnce(ctx, &f)

	agentNames := d.refineRelevance(ctx, f)

	records := make([]TaskRecord, 0, len(agentNames))
	for _, name := range agentNames {
		agent, ok := d.registry.filingAgents[name]
		if !ok {
			d.log.Warn("classifier routed to unregistered agent", "agent", name)
			continue
		}
		records = append(records, d.runAgent(ctx, agent, f, research, notify))
	}

	if err := d.logger.Log(ctx, f); err != nil && err != ErrDuplicateFiling {
		d.log.Error("failed to log filing, filing.seen will not be marked", "ticker", f.Event.Ticker, "filing_id", f.Event.FilingID, "error", err)
		return records
	}

	if err := d.seen.MarkSeen(ctx, f.Event.Ticker, f.Event.FilingID); err != nil {
		d.log.Error("failed to mark filing seen after successful log", "ticker", f.Event.Ticker, "filing_id", f.Event.FilingID, "error", err)
	}

	return records
}

func (d *Dispatcher) fetchOnce(ctx context.Context, f *Filing) {
	if f.Event.Body != "" || d.http == nil {
		return
	}
	body, err := d.http.Fetch(ctx, f.Event.PrimaryDocURL)
	if err != nil {
		d.log.Warn("fetch-once failed, proceeding without body", "url", f.Event.PrimaryDocURL, "error", err)
		return
	}
	f.Event.Body = string(body)
}

// refineRelevance optionally narrows the classifier's agents_needed list
// with an LLM relevance map. A parse failure defaults every agent to true.
func (d *Dispatcher) refineRelevance(ctx context.Context, f Filing) []string {
	agents := f.Classification.AgentsNeeded
	if d.llm == nil || len(f.Event.Body) < 500 || len(agents) == 0 {
		return agents
	}

	raw, err := d.llm.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You determine which SPAC filing agents are relevant to a filing. Respond with strict JSON only."},
		{Role: llm.RoleUser, Content: fmt.Sprintf("agents=%v content_sample=%q\nReturn JSON: {agent_name: bool}", agents, truncate(f.Event.Body, 2000))},
	})
	if err != nil {
		d.log.Warn("relevance refinement call failed, using full agent list", "error", err)
		return agents
	}

	var relevance map[string]bool
	if err := json.Unmarshal([]byte(raw), &relevance); err != nil {
		d.log.Warn("relevance refinement response unparseable, using full agent list", "error", err)
		return agents
	}

	var kept []string
	for _, name := range agents {
		if v, ok := relevance[name]; !ok || v {
			kept = append(kept, name)
		}
	}
	return kept
}

func (d *Dispatcher) runAgent(ctx context.Context, agent FilingAgent, f Filing, research ResearchPort, notify NotifyPort) TaskRecord {
	rec := TaskRecord{
		AgentName: agent.Name(),
		Ticker:    f.Event.Ticker,
		FilingID:  f.Event.FilingID,
		Priority:  f.Classification.Priority,
		StartedAt: time.Now(),
	}

	result := agent.Process(ctx, f, research, notify)
	rec.EndedAt = time.Now()
	rec.Status = result.Status
	rec.Detail = result.Detail
	if result.Err != nil {
		d.log.Error("filing agent failed", "agent", agent.Name(), "ticker", f.Event.Ticker, "error", result.Err)
		if rec.Status == "" {
			rec.Status = TaskStatusFailed
		}
	} else if rec.Status == "" {
		rec.Status = TaskStatusCompleted
	}
	return rec
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
