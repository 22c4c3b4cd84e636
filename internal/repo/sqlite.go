package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id                    TEXT PRIMARY KEY,
	ts                    INTEGER NOT NULL,
	substation_id         TEXT NOT NULL DEFAULT '',
	circuit_id            TEXT NOT NULL DEFAULT '',
	meter_id              TEXT NOT NULL DEFAULT '',
	event_type            TEXT NOT NULL DEFAULT '',
	severity              TEXT NOT NULL DEFAULT '',
	duration_ms           REAL,
	magnitude             REAL,
	remaining_voltage_pct REAL,
	affected_phases       TEXT NOT NULL DEFAULT '[]',
	parent_event_id       TEXT,
	is_mother             INTEGER NOT NULL DEFAULT 0,
	is_child              INTEGER NOT NULL DEFAULT 0,
	grouping_type         TEXT NOT NULL DEFAULT 'none',
	grouped_at            INTEGER,
	false_event           INTEGER NOT NULL DEFAULT 0,
	validated_externally  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id);
CREATE INDEX IF NOT EXISTS idx_events_substation_ts ON events(substation_id, ts);

CREATE TABLE IF NOT EXISTS rules (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	is_active              INTEGER NOT NULL DEFAULT 0,
	priority               INTEGER NOT NULL DEFAULT 0,
	conditions             TEXT NOT NULL DEFAULT '{}',
	actions                TEXT NOT NULL DEFAULT '{}',
	total_processed        INTEGER NOT NULL DEFAULT 0,
	false_positives_caught INTEGER NOT NULL DEFAULT 0,
	accuracy_rate          REAL NOT NULL DEFAULT 0,
	last_triggered         INTEGER,
	created_at             INTEGER NOT NULL,
	updated_at             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_applications (
	rule_id  TEXT NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
	event_id TEXT NOT NULL,
	credited INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (rule_id, event_id)
);
CREATE INDEX IF NOT EXISTS idx_rule_applications_event ON rule_applications(event_id);
`

const eventColumns = `id, ts, substation_id, circuit_id, meter_id, event_type, severity,
	duration_ms, magnitude, remaining_voltage_pct, affected_phases,
	parent_event_id, is_mother, is_child, grouping_type, grouped_at,
	false_event, validated_externally`

const ruleColumns = `id, name, description, is_active, priority, conditions, actions,
	total_processed, false_positives_caught, accuracy_rate, last_triggered, created_at, updated_at`

// SQLiteStore persists events and rules in SQLite. Batches run inside one transaction
// and statistics are incremented in SQL, never read-modify-write.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:" is supported.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection: one writer, and an in-memory database lives as long as it does.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	logger.Info("sqlite store ready", slog.String("path", path))
	return &SQLiteStore{db: db, path: path, logger: logger, now: time.Now}, nil
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertEvents upserts events in one transaction. New rows start standalone and the
// grouping columns of existing rows are never touched.
func (s *SQLiteStore) InsertEvents(ctx context.Context, events []models.Event) (err error) {
	if err := validateImport(events); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewStoreError("insert events", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ts = excluded.ts, substation_id = excluded.substation_id, circuit_id = excluded.circuit_id,
			meter_id = excluded.meter_id, event_type = excluded.event_type, severity = excluded.severity,
			duration_ms = excluded.duration_ms, magnitude = excluded.magnitude,
			remaining_voltage_pct = excluded.remaining_voltage_pct, affected_phases = excluded.affected_phases,
			false_event = excluded.false_event, validated_externally = excluded.validated_externally`)
	if err != nil {
		return utils.NewStoreError("insert events", "prepare", err)
	}
	defer stmt.Close()

	for _, event := range events {
		phases, mErr := json.Marshal(nonNilStrings(event.AffectedPhases))
		if mErr != nil {
			return utils.NewStoreError("insert events", "encode phases", mErr)
		}
		if _, err = stmt.ExecContext(ctx,
			event.ID, event.Timestamp.UTC().UnixNano(), event.SubstationID, event.CircuitID, event.MeterID,
			event.EventType, event.Severity,
			nullFloat(event.DurationMs), nullFloat(event.Magnitude), nullFloat(event.RemainingVoltagePct), string(phases),
			nil, false, false, string(models.GroupingNone), nil,
			event.FalseEvent, event.ValidatedExternally,
		); err != nil {
			return utils.NewStoreError("insert events", "insert "+event.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return utils.NewStoreError("insert events", "commit", err)
	}
	return nil
}

// ListEvents returns matching events ordered by timestamp, then id.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.SubstationID != "" {
		clauses = append(clauses, "substation_id = ?")
		args = append(args, filter.SubstationID)
	}
	if filter.ParentEventID != "" {
		clauses = append(clauses, "parent_event_id = ?")
		args = append(args, filter.ParentEventID)
	}
	if !filter.TimeRange.Start.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, filter.TimeRange.Start.UTC().UnixNano())
	}
	if !filter.TimeRange.End.IsZero() {
		clauses = append(clauses, "ts < ?")
		args = append(args, filter.TimeRange.End.UTC().UnixNano())
	}
	if filter.OnlyUngrouped {
		clauses = append(clauses, "parent_event_id IS NULL AND is_mother = 0")
	}

	query := "SELECT " + eventColumns + " FROM events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewStoreError("list events", "query", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, utils.NewStoreError("list events", "scan", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewStoreError("list events", "iterate", err)
	}
	return events, nil
}

// GetEvent returns one event or a not-found error.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (models.Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Event{}, utils.NewNotFoundError("get event", fmt.Sprintf("event %s not found", id))
	}
	if err != nil {
		return models.Event{}, utils.NewStoreError("get event", "scan", err)
	}
	return event, nil
}

// BatchUpdateEvents verifies every update's expected grouping state (and child count,
// when given) before writing any row, all in one transaction.
func (s *SQLiteStore) BatchUpdateEvents(ctx context.Context, updates []models.EventUpdate) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewStoreError("batch update events", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, update := range updates {
		if err = checkExpected(ctx, tx, update); err != nil {
			return err
		}
	}

	for _, update := range updates {
		fields := update.Fields
		groupingType := fields.GroupingType
		if groupingType == "" {
			groupingType = models.GroupingNone
		}
		if _, err = tx.ExecContext(ctx, `UPDATE events
			SET parent_event_id = ?, is_mother = ?, is_child = ?, grouping_type = ?, grouped_at = ?
			WHERE id = ?`,
			nullString(fields.ParentEventID), fields.IsMotherEvent, fields.IsChildEvent, string(groupingType), nullTime(fields.GroupedAt),
			update.ID,
		); err != nil {
			return utils.NewStoreError("batch update events", "update "+update.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return utils.NewStoreError("batch update events", "commit", err)
	}
	return nil
}

func checkExpected(ctx context.Context, tx *sql.Tx, update models.EventUpdate) error {
	var (
		parent   sql.NullString
		isMother bool
	)
	err := tx.QueryRowContext(ctx, "SELECT parent_event_id, is_mother FROM events WHERE id = ?", update.ID).Scan(&parent, &isMother)
	if errors.Is(err, sql.ErrNoRows) {
		return utils.NewNotFoundError("batch update events", fmt.Sprintf("event %s not found", update.ID))
	}
	if err != nil {
		return utils.NewStoreError("batch update events", "read "+update.ID, err)
	}
	current := models.GroupingState{IsMotherEvent: isMother}
	if parent.Valid {
		current.ParentEventID = &parent.String
	}
	if !current.SameGrouping(update.Expected) {
		return utils.NewConflictError("batch update events", fmt.Sprintf("event %s changed since it was read", update.ID), nil)
	}

	if update.ExpectedChildren == nil {
		return nil
	}
	var children int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE parent_event_id = ?", update.ID).Scan(&children); err != nil {
		return utils.NewStoreError("batch update events", "count children of "+update.ID, err)
	}
	if children != *update.ExpectedChildren {
		return utils.NewConflictError("batch update events",
			fmt.Sprintf("event %s has %d children, planned against %d", update.ID, children, *update.ExpectedChildren), nil)
	}
	return nil
}

// ListRules returns every rule ordered by priority, then id.
func (s *SQLiteStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM rules ORDER BY priority, id")
	if err != nil {
		return nil, utils.NewStoreError("list rules", "query", err)
	}
	defer rows.Close()

	rules := make([]models.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, utils.NewStoreError("list rules", "scan", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewStoreError("list rules", "iterate", err)
	}
	return rules, nil
}

// GetRule returns one rule or a not-found error.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (models.Rule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Rule{}, utils.NewNotFoundError("get rule", fmt.Sprintf("rule %s not found", id))
	}
	if err != nil {
		return models.Rule{}, utils.NewStoreError("get rule", "scan", err)
	}
	return rule, nil
}

// SaveRule upserts the authored fields of rule; statistics columns are left untouched.
func (s *SQLiteStore) SaveRule(ctx context.Context, rule models.Rule) (models.Rule, error) {
	if rule.ID == "" {
		return models.Rule{}, utils.NewValidationError("save rule", "rule id is required")
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return models.Rule{}, utils.NewStoreError("save rule", "encode conditions", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return models.Rule{}, utils.NewStoreError("save rule", "encode actions", err)
	}
	now := s.now().UTC().UnixNano()

	_, err = s.db.ExecContext(ctx, `INSERT INTO rules (id, name, description, is_active, priority, conditions, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, is_active = excluded.is_active,
			priority = excluded.priority, conditions = excluded.conditions, actions = excluded.actions,
			updated_at = excluded.updated_at`,
		rule.ID, rule.Name, rule.Description, rule.IsActive, rule.Priority, string(conditions), string(actions), now, now,
	)
	if err != nil {
		return models.Rule{}, utils.NewStoreError("save rule", "upsert "+rule.ID, err)
	}
	return s.GetRule(ctx, rule.ID)
}

// DeleteRule removes a rule; its application rows cascade.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return utils.NewStoreError("delete rule", "delete "+id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return utils.NewNotFoundError("delete rule", fmt.Sprintf("rule %s not found", id))
	}
	return nil
}

// SetRuleActive sets is_active, or flips it when active is nil, in a single UPDATE.
func (s *SQLiteStore) SetRuleActive(ctx context.Context, id string, active *bool) (models.Rule, error) {
	var value sql.NullBool
	if active != nil {
		value = sql.NullBool{Bool: *active, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET
			is_active = CASE WHEN ? IS NULL THEN 1 - is_active ELSE ? END,
			updated_at = ?
		WHERE id = ?`,
		value, value, s.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return models.Rule{}, utils.NewStoreError("set rule active", "update "+id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Rule{}, utils.NewNotFoundError("set rule active", fmt.Sprintf("rule %s not found", id))
	}
	return s.GetRule(ctx, id)
}

// IncrementRuleStatistics records the batch in one transaction. Each new (rule, event)
// row adds one to total_processed; repeats only move last_triggered. Right-hand
// expressions see the pre-update row, so accuracy is derived from old values plus
// the increment. Deltas for unknown rules are skipped.
func (s *SQLiteStore) IncrementRuleStatistics(ctx context.Context, deltas []models.StatisticsDelta) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewStoreError("increment rule statistics", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, delta := range deltas {
		var exists int
		err = tx.QueryRowContext(ctx, "SELECT 1 FROM rules WHERE id = ?", delta.RuleID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			continue
		}
		if err != nil {
			return utils.NewStoreError("increment rule statistics", "read "+delta.RuleID, err)
		}

		var added int64
		for _, eventID := range delta.EventIDs {
			res, execErr := tx.ExecContext(ctx,
				"INSERT INTO rule_applications (rule_id, event_id) VALUES (?, ?) ON CONFLICT(rule_id, event_id) DO NOTHING",
				delta.RuleID, eventID)
			if execErr != nil {
				err = utils.NewStoreError("increment rule statistics", "record "+delta.RuleID+"/"+eventID, execErr)
				return err
			}
			n, _ := res.RowsAffected()
			added += n
		}

		triggered := nullTime(delta.TriggeredAt)
		if _, err = tx.ExecContext(ctx, `UPDATE rules SET
				total_processed = total_processed + ?,
				accuracy_rate = CASE WHEN total_processed + ? > 0
					THEN CAST(false_positives_caught AS REAL) / (total_processed + ?)
					ELSE 0 END,
				last_triggered = CASE WHEN ? IS NOT NULL AND (last_triggered IS NULL OR ? > last_triggered)
					THEN ? ELSE last_triggered END
			WHERE id = ?`,
			added, added, added,
			triggered, triggered, triggered,
			delta.RuleID,
		); err != nil {
			return utils.NewStoreError("increment rule statistics", "update "+delta.RuleID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return utils.NewStoreError("increment rule statistics", "commit", err)
	}
	return nil
}

// CreditFalsePositive marks every uncredited application of eventID as caught and
// bumps false_positives_caught of those rules, in one transaction.
func (s *SQLiteStore) CreditFalsePositive(ctx context.Context, eventID string) (credited []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, utils.NewStoreError("credit false positive", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		"SELECT rule_id FROM rule_applications WHERE event_id = ? AND credited = 0 ORDER BY rule_id", eventID)
	if err != nil {
		return nil, utils.NewStoreError("credit false positive", "query", err)
	}
	credited = make([]string, 0)
	for rows.Next() {
		var ruleID string
		if err = rows.Scan(&ruleID); err != nil {
			_ = rows.Close()
			return nil, utils.NewStoreError("credit false positive", "scan", err)
		}
		credited = append(credited, ruleID)
	}
	_ = rows.Close()
	if err = rows.Err(); err != nil {
		return nil, utils.NewStoreError("credit false positive", "iterate", err)
	}

	for _, ruleID := range credited {
		if _, err = tx.ExecContext(ctx,
			"UPDATE rule_applications SET credited = 1 WHERE rule_id = ? AND event_id = ?", ruleID, eventID); err != nil {
			return nil, utils.NewStoreError("credit false positive", "mark "+ruleID, err)
		}
		if _, err = tx.ExecContext(ctx, `UPDATE rules SET
				false_positives_caught = false_positives_caught + 1,
				accuracy_rate = CASE WHEN total_processed > 0
					THEN CAST(false_positives_caught + 1 AS REAL) / total_processed
					ELSE 0 END
			WHERE id = ?`, ruleID); err != nil {
			return nil, utils.NewStoreError("credit false positive", "update "+ruleID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, utils.NewStoreError("credit false positive", "commit", err)
	}
	return credited, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (models.Event, error) {
	var (
		event                         models.Event
		ts                            int64
		duration, magnitude, residual sql.NullFloat64
		phases                        string
		parent                        sql.NullString
		groupingType                  string
		groupedAt                     sql.NullInt64
	)
	if err := row.Scan(
		&event.ID, &ts, &event.SubstationID, &event.CircuitID, &event.MeterID, &event.EventType, &event.Severity,
		&duration, &magnitude, &residual, &phases,
		&parent, &event.IsMotherEvent, &event.IsChildEvent, &groupingType, &groupedAt,
		&event.FalseEvent, &event.ValidatedExternally,
	); err != nil {
		return models.Event{}, err
	}
	event.Timestamp = time.Unix(0, ts).UTC()
	event.DurationMs = floatPtr(duration)
	event.Magnitude = floatPtr(magnitude)
	event.RemainingVoltagePct = floatPtr(residual)
	if err := json.Unmarshal([]byte(phases), &event.AffectedPhases); err != nil {
		return models.Event{}, fmt.Errorf("decode phases: %w", err)
	}
	if len(event.AffectedPhases) == 0 {
		event.AffectedPhases = nil
	}
	if parent.Valid {
		event.ParentEventID = &parent.String
	}
	event.GroupingType = models.GroupingType(groupingType)
	event.GroupedAt = timePtr(groupedAt)
	return event, nil
}

func scanRule(row rowScanner) (models.Rule, error) {
	var (
		rule                 models.Rule
		conditions, actions  string
		lastTriggered        sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.IsActive, &rule.Priority, &conditions, &actions,
		&rule.Statistics.TotalProcessed, &rule.Statistics.FalsePositivesCaught, &rule.Statistics.AccuracyRate,
		&lastTriggered, &createdAt, &updatedAt,
	); err != nil {
		return models.Rule{}, err
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return models.Rule{}, fmt.Errorf("decode conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return models.Rule{}, fmt.Errorf("decode actions: %w", err)
	}
	rule.Statistics.LastTriggered = timePtr(lastTriggered)
	rule.CreatedAt = time.Unix(0, createdAt).UTC()
	rule.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rule, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v.UTC().UnixNano(), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
