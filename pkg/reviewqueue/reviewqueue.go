// Package reviewqueue presents validation issues that didn't qualify for
// inline auto-fix, one at a time, over the chat transport. Approval,
// skip, and batch commands are routed deterministically; anything else
// typed at the queue falls through to an LLM assistant with the current
// issue as context.
package reviewqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medxprts/spacmon/pkg/llm"
	"github.com/medxprts/spacmon/pkg/validation"
)

// ErrNoActiveQueue is returned by operations that require a pending item
// when the queue is empty or every item has already been resolved.
var ErrNoActiveQueue = errors.New("reviewqueue: no item awaiting response")

// Status is the lifecycle of one queued item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusSkipped  Status = "skipped"
)

// Item is one queued validation issue plus its resolution state.
type Item struct {
	ID         int64
	Ticker     string
	RuleCode   string
	Field      string
	Message    string
	Confidence validation.Confidence
	AutoFixTag string
	Research   json.RawMessage
	Status     Status
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Applier commits an approved fix back to the entity repository. Queue
// approval doesn't know how to mutate an entity itself — that's
// pkg/fixapplier's job — it only decides which issue gets applied next
// and records the outcome.
type Applier interface {
	Apply(ctx context.Context, ticker, ruleCode, autoFixTag string) error
}

// Queue is the durable, sequential review queue.
type Queue struct {
	db      *sqlx.DB
	applier Applier
	llm     *llm.Client
	log     *slog.Logger
}

// New creates a Queue. llmClient may be nil, in which case free-text input
// that isn't a recognized command is rejected rather than forwarded.
func New(db *sqlx.DB, applier Applier, llmClient *llm.Client) *Queue {
	return &Queue{db: db, applier: applier, llm: llmClient, log: slog.With("component", "reviewqueue")}
}

// Create inserts issues as pending items and appends them to the
// presentation order, but only if there is no existing queue with pending
// items — a fresh sweep never interleaves with an unfinished review.
func (q *Queue) Create(ctx context.Context, issues []validation.Issue, triggeredBy string) error {
	var pendingCount int
	if err := q.db.GetContext(ctx, &pendingCount, `SELECT count(*) FROM validation_queue_items WHERE status = 'pending'`); err != nil {
		return fmt.Errorf("reviewqueue: checking for active queue: %w", err)
	}
	if pendingCount > 0 {
		return fmt.Errorf("reviewqueue: %d items already pending, refusing to create a new queue", pendingCount)
	}

	return withTx(ctx, q.db, func(tx *sqlx.Tx) error {
		for _, issue := range issues {
			var id int64
			if err := tx.GetContext(ctx, &id, `
				INSERT INTO validation_queue_items (ticker, rule_code, field, message, confidence, auto_fix_tag)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id`,
				issue.Ticker, issue.RuleCode, nullIfEmpty(issue.Field), issue.Message, string(issue.Confidence), nullIfEmpty(issue.AutoFixTag)); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO validation_queue (item_id) VALUES ($1)`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Current returns the item at the front of the presentation order that is
// still pending, or ErrNoActiveQueue if nothing is awaiting a response.
func (q *Queue) Current(ctx context.Context) (*Item, error) {
	row := itemRow{}
	err := q.db.GetContext(ctx, &row, `
		SELECT i.id, i.ticker, i.rule_code, i.field, i.message, i.confidence, i.auto_fix_tag,
		       i.research, i.status, i.created_at, i.resolved_at
		FROM validation_queue q
		JOIN validation_queue_items i ON i.id = q.item_id
		WHERE i.status = 'pending'
		ORDER BY q.position ASC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveQueue
	}
	if err != nil {
		return nil, err
	}
	return row.toItem(), nil
}

// ApproveCurrent applies the fix for the current item through the
// Applier, records the resolution, and returns the next item if any.
func (q *Queue) ApproveCurrent(ctx context.Context, notes string) (*Item, error) {
	current, err := q.Current(ctx)
	if err != nil {
		return nil, err
	}
	if q.applier != nil {
		if err := q.applier.Apply(ctx, current.Ticker, current.RuleCode, current.AutoFixTag); err != nil {
			return nil, fmt.Errorf("reviewqueue: applying fix for item %d: %w", current.ID, err)
		}
	}
	if err := q.resolve(ctx, current.ID, StatusApproved); err != nil {
		return nil, err
	}
	return q.Current(ctx)
}

// SkipCurrent records a skip for the current item without applying
// anything, and returns the next item if any.
func (q *Queue) SkipCurrent(ctx context.Context, reason string) (*Item, error) {
	current, err := q.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := q.resolve(ctx, current.ID, StatusSkipped); err != nil {
		return nil, err
	}
	return q.Current(ctx)
}

// BatchApproveByPattern approves every pending item whose rule code or
// field contains substr, in presentation order.
func (q *Queue) BatchApproveByPattern(ctx context.Context, substr string) (int, error) {
	return q.batchApprove(ctx, func(i *Item) bool {
		return strings.Contains(i.RuleCode, substr) || strings.Contains(i.Field, substr)
	})
}

// BatchApproveAll approves every remaining pending item.
func (q *Queue) BatchApproveAll(ctx context.Context) (int, error) {
	return q.batchApprove(ctx, func(i *Item) bool { return true })
}

func (q *Queue) batchApprove(ctx context.Context, match func(*Item) bool) (int, error) {
	var rows []itemRow
	if err := q.db.SelectContext(ctx, &rows, `
		SELECT i.id, i.ticker, i.rule_code, i.field, i.message, i.confidence, i.auto_fix_tag,
		       i.research, i.status, i.created_at, i.resolved_at
		FROM validation_queue q JOIN validation_queue_items i ON i.id = q.item_id
		WHERE i.status = 'pending' ORDER BY q.position ASC`); err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		current := row.toItem()
		if !match(current) {
			continue
		}
		if q.applier != nil {
			if err := q.applier.Apply(ctx, current.Ticker, current.RuleCode, current.AutoFixTag); err != nil {
				q.log.Warn("batch approve: apply failed, skipping", "ticker", current.Ticker, "rule", current.RuleCode, "error", err)
				if err := q.resolve(ctx, current.ID, StatusSkipped); err != nil {
					return n, err
				}
				continue
			}
		}
		if err := q.resolve(ctx, current.ID, StatusApproved); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (q *Queue) resolve(ctx context.Context, id int64, status Status) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE validation_queue_items SET status = $1, resolved_at = now() WHERE id = $2`,
		status, id)
	return err
}

// HandleText routes free-form input: recognized commands call the
// matching operation directly, anything else is forwarded to the LLM
// assistant with the current item as context.
func (q *Queue) HandleText(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	switch {
	case lower == "approve" || lower == "yes":
		next, err := q.ApproveCurrent(ctx, "")
		return q.describeAfter("approved", next, err)
	case lower == "skip" || lower == "no":
		next, err := q.SkipCurrent(ctx, "")
		return q.describeAfter("skipped", next, err)
	case lower == "approve all":
		n, err := q.BatchApproveAll(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("approved %d remaining items", n), nil
	case strings.HasPrefix(lower, "approve pattern "):
		pattern := strings.TrimSpace(text[len("approve pattern "):])
		n, err := q.BatchApproveByPattern(ctx, pattern)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("approved %d items matching %q", n, pattern), nil
	}

	return q.askAssistant(ctx, text)
}

func (q *Queue) describeAfter(verb string, next *Item, err error) (string, error) {
	if errors.Is(err, ErrNoActiveQueue) {
		return fmt.Sprintf("%s. queue is empty.", verb), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s. next: %s", verb, FormatIssue(next)), nil
}

func (q *Queue) askAssistant(ctx context.Context, text string) (string, error) {
	if q.llm == nil {
		return "", fmt.Errorf("reviewqueue: no command matched and no assistant is configured")
	}
	current, err := q.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoActiveQueue) {
		return "", err
	}
	context := "the queue is currently empty."
	if current != nil {
		context = FormatIssue(current)
	}
	reply, err := q.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You help an operator review flagged SPAC data issues. Be concise. Current issue:\n" + context},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("reviewqueue: assistant call failed: %w", err)
	}
	return reply, nil
}

// FormatIssue renders an item for presentation: position context is left
// to the caller since it depends on how many items remain.
func FormatIssue(i *Item) string {
	if i == nil {
		return "(none)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", i.RuleCode, i.Ticker, i.Message)
	if i.Field != "" {
		fmt.Fprintf(&b, " (field: %s)", i.Field)
	}
	fmt.Fprintf(&b, " confidence=%s", i.Confidence)
	if i.AutoFixTag != "" {
		fmt.Fprintf(&b, " suggested_fix=%s", i.AutoFixTag)
	}
	return b.String()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type itemRow struct {
	ID         int64          `db:"id"`
	Ticker     string         `db:"ticker"`
	RuleCode   string         `db:"rule_code"`
	Field      *string        `db:"field"`
	Message    string         `db:"message"`
	Confidence string         `db:"confidence"`
	AutoFixTag *string        `db:"auto_fix_tag"`
	Research   []byte         `db:"research"`
	Status     string         `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	ResolvedAt *time.Time     `db:"resolved_at"`
}

func (r itemRow) toItem() *Item {
	item := &Item{
		ID:         r.ID,
		Ticker:     r.Ticker,
		RuleCode:   r.RuleCode,
		Message:    r.Message,
		Confidence: validation.Confidence(r.Confidence),
		Status:     Status(r.Status),
		CreatedAt:  r.CreatedAt,
		ResolvedAt: r.ResolvedAt,
		Research:   r.Research,
	}
	if r.Field != nil {
		item.Field = *r.Field
	}
	if r.AutoFixTag != nil {
		item.AutoFixTag = *r.AutoFixTag
	}
	return item
}
