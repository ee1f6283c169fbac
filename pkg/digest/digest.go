// Package digest renders and sends the daily filing summary: filings
// logged in the day's window, grouped by priority, plus a count of any
// processing errors recorded in the same window. It is the scheduled
// agent that consumes the scheduler's once-a-day gate.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medxprts/spacmon/pkg/agentreg"
	"github.com/medxprts/spacmon/pkg/config"
)

// Sender is the narrow outbound contract this package depends on.
type Sender interface {
	Notify(ctx context.Context, alertType, ticker, key string, priority config.Priority, body string) error
}

// PriorityCount is one priority bucket's filing count for the window.
type PriorityCount struct {
	Priority config.Priority
	Count    int
}

// Report is the rendered daily digest content.
type Report struct {
	WindowStart    time.Time
	WindowEnd      time.Time
	TotalFilings   int
	ByPriority     []PriorityCount
	TopTickers     []TickerCount
	WriteFailures  int
}

// TickerCount is how many filings a single ticker produced in the window.
type TickerCount struct {
	Ticker string
	Count  int
}

// Agent renders and sends the daily digest. It implements
// agentreg.ScheduledAgent so it can be registered and gated like any
// other scheduled task.
type Agent struct {
	db     *sqlx.DB
	alerts Sender
}

// New creates a digest Agent.
func New(db *sqlx.DB, alerts Sender) *Agent {
	return &Agent{db: db, alerts: alerts}
}

func (Agent) Name() string { return "DailyDigest" }

func (a *Agent) Run(ctx context.Context, research agentreg.ResearchPort, notify agentreg.NotifyPort) error {
	report, err := a.Build(ctx, time.Now())
	if err != nil {
		return err
	}
	return a.alerts.Notify(ctx, "daily_digest", "", "", config.PriorityLow, Render(report))
}

// Build queries the last 24 hours of filing_events and
// database_write_failures and assembles a Report.
func (a *Agent) Build(ctx context.Context, asOf time.Time) (*Report, error) {
	windowStart := asOf.Add(-24 * time.Hour)
	report := &Report{WindowStart: windowStart, WindowEnd: asOf}

	type priorityRow struct {
		Priority string `db:"priority"`
		Count    int    `db:"count"`
	}
	var priorityRows []priorityRow
	if err := a.db.SelectContext(ctx, &priorityRows, `
		SELECT priority, count(*) AS count FROM filing_events
		WHERE filed_at >= $1 AND filed_at < $2
		GROUP BY priority`, windowStart, asOf); err != nil {
		return nil, fmt.Errorf("digest: querying filings by priority: %w", err)
	}
	for _, r := range priorityRows {
		report.ByPriority = append(report.ByPriority, PriorityCount{Priority: config.Priority(r.Priority), Count: r.Count})
		report.TotalFilings += r.Count
	}
	sort.Slice(report.ByPriority, func(i, j int) bool { return report.ByPriority[i].Priority < report.ByPriority[j].Priority })

	type tickerRow struct {
		Ticker string `db:"ticker"`
		Count  int    `db:"count"`
	}
	var tickerRows []tickerRow
	if err := a.db.SelectContext(ctx, &tickerRows, `
		SELECT ticker, count(*) AS count FROM filing_events
		WHERE filed_at >= $1 AND filed_at < $2
		GROUP BY ticker ORDER BY count DESC LIMIT 5`, windowStart, asOf); err != nil {
		return nil, fmt.Errorf("digest: querying top tickers: %w", err)
	}
	for _, r := range tickerRows {
		report.TopTickers = append(report.TopTickers, TickerCount{Ticker: r.Ticker, Count: r.Count})
	}

	if err := a.db.GetContext(ctx, &report.WriteFailures, `
		SELECT count(*) FROM database_write_failures WHERE created_at >= $1 AND created_at < $2`, windowStart, asOf); err != nil {
		return nil, fmt.Errorf("digest: querying write failures: %w", err)
	}

	return report, nil
}

// Render formats a Report as plain text suitable for the chat transport.
func Render(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily filing digest: %s to %s\n", r.WindowStart.Format("2006-01-02 15:04"), r.WindowEnd.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Filings logged: %d\n", r.TotalFilings)
	for _, pc := range r.ByPriority {
		fmt.Fprintf(&b, "  %s: %d\n", pc.Priority, pc.Count)
	}
	if len(r.TopTickers) > 0 {
		b.WriteString("Most active tickers:\n")
		for _, tc := range r.TopTickers {
			fmt.Fprintf(&b, "  %s: %d\n", tc.Ticker, tc.Count)
		}
	}
	if r.WriteFailures > 0 {
		fmt.Fprintf(&b, "Database write failures: %d\n", r.WriteFailures)
	}
	return b.String()
}
