// Package store provides SQLite persistence for rules, feedback and contexts
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	trigger_condition TEXT NOT NULL DEFAULT '{}',
	weight REAL NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	source TEXT NOT NULL DEFAULT '',
	event_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS feedback_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	context_snapshot TEXT NOT NULL DEFAULT '{}',
	chosen_lead_time INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS user_contexts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_rule ON feedback_log(rule_id);
CREATE INDEX IF NOT EXISTS idx_rules_event ON rules(event_id);
`

// DB wraps the SQLite database behind the persistence interfaces
type DB struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the database and applies the schema
func Open(path string, logger *logx.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{db: db, logger: logger}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// SaveRule inserts or replaces one rule row
func (d *DB) SaveRule(r *pkg.Rule) error {
	cond, err := json.Marshal(r.TriggerCondition)
	if err != nil {
		return fmt.Errorf("failed to encode trigger condition: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO rules (id, name, description, trigger_condition, weight, is_active, source, event_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			trigger_condition=excluded.trigger_condition,
			weight=excluded.weight,
			is_active=excluded.is_active,
			source=excluded.source,
			event_id=excluded.event_id,
			updated_at=excluded.updated_at`,
		r.ID, r.Name, r.Description, string(cond), r.Weight, boolToInt(r.IsActive),
		r.Source, r.EventID, r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save rule %d: %w", r.ID, err)
	}
	return nil
}

// LoadRules returns every stored rule
func (d *DB) LoadRules() ([]*pkg.Rule, error) {
	rows, err := d.db.Query(`
		SELECT id, name, description, trigger_condition, weight, is_active, source, event_id, created_at, updated_at
		FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []*pkg.Rule
	for rows.Next() {
		var (
			r        pkg.Rule
			cond     string
			active   int
			created  string
			updated  string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &cond, &r.Weight, &active,
			&r.Source, &r.EventID, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(cond), &r.TriggerCondition); err != nil {
			d.logger.Warn("skipping rule with bad trigger condition", "rule_id", r.ID, "error", err)
			continue
		}
		r.IsActive = active != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AppendFeedback records one observation in the append-only log
func (d *DB) AppendFeedback(rec *pkg.FeedbackRecord) error {
	snapshot, err := json.Marshal(rec.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode context snapshot: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO feedback_log (rule_id, outcome, context_snapshot, chosen_lead_time, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.RuleID, rec.Outcome, string(snapshot), rec.ChosenLeadTime,
		rec.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return nil
}

// FeedbackHistory returns the most recent feedback records, newest first
func (d *DB) FeedbackHistory(limit int) ([]*pkg.FeedbackRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.db.Query(`
		SELECT rule_id, outcome, context_snapshot, chosen_lead_time, created_at
		FROM feedback_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback history: %w", err)
	}
	defer rows.Close()

	var out []*pkg.FeedbackRecord
	for rows.Next() {
		var (
			rec      pkg.FeedbackRecord
			snapshot string
			created  string
		)
		if err := rows.Scan(&rec.RuleID, &rec.Outcome, &snapshot, &rec.ChosenLeadTime, &created); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if snapshot != "" && snapshot != "null" {
			var c pkg.Context
			if err := json.Unmarshal([]byte(snapshot), &c); err == nil {
				rec.ContextSnapshot = &c
			}
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// FeedbackCounts aggregates accepts and rejects per rule and outcome over
// time for analytics
func (d *DB) FeedbackCounts() (map[int64]map[string]int, error) {
	rows, err := d.db.Query(`
		SELECT rule_id, outcome, COUNT(*) FROM feedback_log GROUP BY rule_id, outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate feedback: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]int)
	for rows.Next() {
		var (
			ruleID  int64
			outcome string
			count   int
		)
		if err := rows.Scan(&ruleID, &outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		if out[ruleID] == nil {
			out[ruleID] = make(map[string]int)
		}
		out[ruleID][outcome] = count
	}
	return out, rows.Err()
}

// FeedbackSeries returns per-rule outcomes ordered oldest first, as binary
// observations for trend fitting
func (d *DB) FeedbackSeries(ruleID int64) ([]float64, error) {
	rows, err := d.db.Query(`
		SELECT outcome FROM feedback_log WHERE rule_id = ? ORDER BY id`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback series: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return nil, err
		}
		v := 0.0
		if outcome == pkg.OutcomeAccept {
			v = 1.0
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AppendContext records one raw context snapshot for audit
func (d *DB) AppendContext(c *pkg.Context) error {
	snapshot, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}

	_, err = d.db.Exec(`INSERT INTO user_contexts (snapshot, created_at) VALUES (?, ?)`,
		string(snapshot), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append context: %w", err)
	}
	return nil
}

// PruneContexts drops audit snapshots older than the retention window
func (d *DB) PruneContexts(olderThan time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM user_contexts WHERE created_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to prune contexts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
