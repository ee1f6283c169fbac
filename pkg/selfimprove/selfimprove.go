// Package selfimprove maintains the Learning Record: a count of how often
// a validation rule pattern has recurred within a rolling window. Once a
// pattern crosses its threshold, an advisory code-improvement proposal is
// generated and sent through the chat transport. No file is ever touched
// without an explicit operator approval command.
package selfimprove

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/llm"
)

// sender is the narrow outbound-chat contract this package depends on,
// satisfied structurally by *chat.Client without importing it directly.
type sender interface {
	Send(ctx context.Context, text string) error
}

// Proposal is an advisory code-improvement suggestion for a recurring
// pattern: a hypothesis about root cause, not a verified fix.
type Proposal struct {
	PatternKey      string   `json:"pattern_key"`
	RootCause       string   `json:"root_cause"`
	Description     string   `json:"description"`
	AffectedFiles   []string `json:"affected_files"`
	Confidence      string   `json:"confidence"`
	TestSuggestions []string `json:"test_suggestions"`
}

// ErrAlreadyResolved is returned when an apply is attempted on a
// code_improvements row that isn't in the "proposed" state.
var ErrAlreadyResolved = errors.New("selfimprove: code improvement is not in proposed state")

// Recorder maintains the Learning Record and raises proposals.
type Recorder struct {
	db   *sqlx.DB
	cfg  *config.Defaults
	chat sender
	llm  *llm.Client
	log  *slog.Logger
}

// New creates a Recorder. llmClient may be nil, in which case proposals
// fall back to a rule-based hypothesis.
func New(db *sqlx.DB, cfg *config.Defaults, chat sender, llmClient *llm.Client) *Recorder {
	return &Recorder{db: db, cfg: cfg, chat: chat, llm: llmClient, log: slog.With("component", "selfimprove")}
}

// RecordOccurrence increments the pattern's count within its rolling
// window (resetting the window if it has expired) and, the first time the
// count crosses the configured threshold, generates and sends a proposal.
func (r *Recorder) RecordOccurrence(ctx context.Context, patternKey string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var row struct {
		Occurrences int       `db:"occurrences"`
		WindowStart time.Time `db:"window_start"`
		Proposal    []byte    `db:"proposal"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT occurrences, window_start, proposal FROM error_patterns WHERE pattern_key = $1 FOR UPDATE`, patternKey)

	windowExpired := err == nil && time.Since(row.WindowStart) > time.Duration(r.cfg.CodeImprovementWindowDays)*24*time.Hour

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO error_patterns (pattern_key, occurrences, window_start, last_seen_at) VALUES ($1, 1, now(), now())`, patternKey); err != nil {
			return err
		}
		row.Occurrences = 1
		row.Proposal = nil
	case err != nil:
		return err
	case windowExpired:
		if _, err := tx.ExecContext(ctx, `
			UPDATE error_patterns SET occurrences = 1, window_start = now(), last_seen_at = now(), proposal = NULL
			WHERE pattern_key = $1`, patternKey); err != nil {
			return err
		}
		row.Occurrences = 1
		row.Proposal = nil
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE error_patterns SET occurrences = occurrences + 1, last_seen_at = now() WHERE pattern_key = $1`, patternKey); err != nil {
			return err
		}
		row.Occurrences++
	}

	crossedNow := row.Occurrences >= r.cfg.CodeImprovementThreshold && len(row.Proposal) == 0
	var proposal *Proposal
	if crossedNow {
		p := r.generateProposal(ctx, patternKey, row.Occurrences)
		proposal = &p
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE error_patterns SET proposal = $1 WHERE pattern_key = $2`, raw, patternKey); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if proposal != nil {
		r.sendProposal(ctx, *proposal)
	}
	return nil
}

func (r *Recorder) generateProposal(ctx context.Context, patternKey string, occurrences int) Proposal {
	fallback := Proposal{
		PatternKey:      patternKey,
		RootCause:       fmt.Sprintf("rule %q has fired %d times within the learning window; root cause not yet diagnosed", patternKey, occurrences),
		Description:     "Recurring validation finding — review the rule's source data and the agent(s) that populate the affected field.",
		Confidence:      "low",
		TestSuggestions: []string{fmt.Sprintf("add a regression test covering the %s condition", patternKey)},
	}
	if r.llm == nil {
		return fallback
	}

	reply, err := r.llm.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You analyze recurring data-validation failures in a SPAC-monitoring system and propose a root cause. Reply as JSON: {\"root_cause\":\"...\",\"description\":\"...\",\"affected_files\":[...],\"confidence\":\"high|medium|low\",\"test_suggestions\":[...]}"},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Validation rule %q has recurred %d times. Propose a root cause hypothesis.", patternKey, occurrences)},
	})
	if err != nil {
		r.log.Warn("proposal generation failed, using rule-based fallback", "pattern", patternKey, "error", err)
		return fallback
	}

	var parsed struct {
		RootCause       string   `json:"root_cause"`
		Description     string   `json:"description"`
		AffectedFiles   []string `json:"affected_files"`
		Confidence      string   `json:"confidence"`
		TestSuggestions []string `json:"test_suggestions"`
	}
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		r.log.Warn("proposal response malformed, using rule-based fallback", "pattern", patternKey, "error", err)
		return fallback
	}

	return Proposal{
		PatternKey:      patternKey,
		RootCause:       parsed.RootCause,
		Description:     parsed.Description,
		AffectedFiles:   parsed.AffectedFiles,
		Confidence:      parsed.Confidence,
		TestSuggestions: parsed.TestSuggestions,
	}
}

func (r *Recorder) sendProposal(ctx context.Context, p Proposal) {
	if r.chat == nil {
		return
	}
	text := fmt.Sprintf("Code improvement proposal for pattern %q\nRoot cause: %s\n%s\nConfidence: %s\nAffected files: %v\nNo code will change without an explicit approval command.",
		p.PatternKey, p.RootCause, p.Description, p.Confidence, p.AffectedFiles)
	if err := r.chat.Send(ctx, text); err != nil {
		r.log.Warn("failed to send code improvement proposal", "pattern", p.PatternKey, "error", err)
	}
}

// CreateCodeImprovement records a proposal as a pending code-improvements
// row, awaiting operator approval.
func (r *Recorder) CreateCodeImprovement(ctx context.Context, p Proposal, targetFile string) (int64, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.db.GetContext(ctx, &id, `
		INSERT INTO code_improvements (pattern_key, proposal, target_file)
		VALUES ($1, $2, $3) RETURNING id`, p.PatternKey, raw, targetFile)
	return id, err
}

// ApplyCodeImprovement is the only path that ever touches a source file.
// It must only be called in direct response to an explicit operator
// approval command. It backs up the target file's current contents, then
// overwrites it with patchContent.
func (r *Recorder) ApplyCodeImprovement(ctx context.Context, id int64, patchContent, backupDir string) error {
	var row struct {
		TargetFile string `db:"target_file"`
		Status     string `db:"status"`
	}
	if err := r.db.GetContext(ctx, &row, `SELECT target_file, status FROM code_improvements WHERE id = $1`, id); err != nil {
		return err
	}
	if row.Status != "proposed" {
		return ErrAlreadyResolved
	}

	original, err := os.ReadFile(row.TargetFile)
	if err != nil {
		return fmt.Errorf("selfimprove: reading target file: %w", err)
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("selfimprove: creating backup dir: %w", err)
	}
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s.%d.bak", filepath.Base(row.TargetFile), time.Now().UnixNano()))
	if err := os.WriteFile(backupPath, original, 0o644); err != nil {
		return fmt.Errorf("selfimprove: writing backup: %w", err)
	}

	if err := os.WriteFile(row.TargetFile, []byte(patchContent), 0o644); err != nil {
		return fmt.Errorf("selfimprove: writing patched file: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE code_improvements SET status = 'applied', applied_at = now(), backup_path = $1 WHERE id = $2`,
		backupPath, id)
	return err
}
