package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/tandem.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the run log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow needs an id to be saved")
	}
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, definition) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		wf.ID, nullStr(wf.Name), string(def),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = ?`, id,
	).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(defJSON), wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter GraphFilter) ([]*schema.Workflow, error) {
	query, args := graphListQuery("workflows", filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		var defJSON string
		if err := rows.Scan(&defJSON); err != nil {
			return nil, err
		}
		wf := &schema.Workflow{}
		if err := json.Unmarshal([]byte(defJSON), wf); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Journeys ---

func (s *LibSQLStore) SaveJourney(ctx context.Context, j *schema.Journey) error {
	if j == nil || j.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "journey needs an id to be saved")
	}
	def, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal journey: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journeys (id, workflow_id, name, definition) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET workflow_id=excluded.workflow_id, name=excluded.name,
		   definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		j.ID, j.WorkflowID, nullStr(j.Name), string(def),
	)
	return err
}

func (s *LibSQLStore) GetJourney(ctx context.Context, id string) (*schema.Journey, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM journeys WHERE id = ?`, id,
	).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("journey", id)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalJourney(defJSON)
}

// JourneyForWorkflow returns the most recently saved journey converted
// from the given workflow.
func (s *LibSQLStore) JourneyForWorkflow(ctx context.Context, workflowID string) (*schema.Journey, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM journeys WHERE workflow_id = ? ORDER BY updated_at DESC LIMIT 1`, workflowID,
	).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("journey for workflow", workflowID)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalJourney(defJSON)
}

func (s *LibSQLStore) ListJourneys(ctx context.Context, filter GraphFilter) ([]*schema.Journey, error) {
	query, args := graphListQuery("journeys", filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var journeys []*schema.Journey
	for rows.Next() {
		var defJSON string
		if err := rows.Scan(&defJSON); err != nil {
			return nil, err
		}
		j, err := unmarshalJourney(defJSON)
		if err != nil {
			return nil, err
		}
		journeys = append(journeys, j)
	}
	return journeys, rows.Err()
}

func (s *LibSQLStore) DeleteJourney(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM journeys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "journey", id)
}

func unmarshalJourney(defJSON string) (*schema.Journey, error) {
	j := &schema.Journey{}
	if err := json.Unmarshal([]byte(defJSON), j); err != nil {
		return nil, fmt.Errorf("unmarshal journey: %w", err)
	}
	return j, nil
}

func graphListQuery(table string, filter GraphFilter) (string, []any) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT definition FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	return query, args
}

// --- Suites ---

func (s *LibSQLStore) SaveSuite(ctx context.Context, ts *suite.TestSuite) error {
	if ts == nil || ts.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "suite needs a name to be saved")
	}
	def, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshal suite: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO suites (name, description, definition) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET description=excluded.description,
		   definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		ts.Name, nullStr(ts.Description), string(def),
	)
	return err
}

func (s *LibSQLStore) GetSuite(ctx context.Context, name string) (*suite.TestSuite, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM suites WHERE name = ?`, name,
	).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("suite", name)
	}
	if err != nil {
		return nil, err
	}
	ts := &suite.TestSuite{}
	if err := json.Unmarshal([]byte(defJSON), ts); err != nil {
		return nil, fmt.Errorf("unmarshal suite %s: %w", name, err)
	}
	return ts, nil
}

func (s *LibSQLStore) ListSuites(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM suites ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *LibSQLStore) DeleteSuite(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suites WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "suite", name)
}

// --- Suite runs ---

// SaveSuiteRun persists a run atomically: the run row, one row per test
// result, and the run's synthesized event log.
func (s *LibSQLStore) SaveSuiteRun(ctx context.Context, result *suite.SuiteResult) error {
	if result == nil || result.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "suite run needs a run id to be saved")
	}
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal suite run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO suite_runs (run_id, suite_id, suite_name, started_at, duration_ms, total, passed, failed, errors, timeouts, skipped, pass_rate, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, nullStr(result.SuiteID), result.SuiteName, timeOrNow(result.StartedAt),
		int64(result.Duration), result.Total, result.Passed, result.Failed,
		result.Errors, result.Timeouts, result.Skipped, result.PassRate, string(blob),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeAlreadyExists, "run %q is already persisted", result.RunID)
		}
		return fmt.Errorf("insert run: %w", err)
	}

	for i := range result.Results {
		tr := &result.Results[i]
		detail, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("marshal test result %s: %w", tr.TestID, err)
		}
		score := float64(0)
		if tr.Comparison != nil {
			score = tr.Comparison.Score
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO test_results (run_id, test_id, test_name, kind, status, started_at, duration_ms, workflow_execution_id, journey_execution_id, score, error, detail)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, tr.TestID, nullStr(tr.TestName), nullStr(string(tr.Kind)), string(tr.Status),
			tr.StartedAt, int64(tr.Duration), nullStr(tr.WorkflowExecutionID), nullStr(tr.JourneyExecutionID),
			score, nullStr(tr.Error), string(detail),
		)
		if err != nil {
			return fmt.Errorf("insert test result %s: %w", tr.TestID, err)
		}
	}

	if err := insertRunEvents(ctx, tx, result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// insertRunEvents writes the replayable event trail of a run.
func insertRunEvents(ctx context.Context, tx *sql.Tx, result *suite.SuiteResult) error {
	events, err := buildRunEvents(result)
	if err != nil {
		return err
	}
	for _, e := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (run_id, event_type, test_id, payload, timestamp, sequence)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.RunID, e.Type, nullStr(e.TestID), nullRaw(e.Payload), e.Timestamp, e.Sequence,
		)
		if err != nil {
			return fmt.Errorf("insert run event %s: %w", e.Type, err)
		}
	}
	return nil
}

// buildRunEvents synthesizes the event trail of a completed run: suite
// start, per-test lifecycle in result order, suite completion. Skipped
// tests never started, so they get only a completion event.
func buildRunEvents(result *suite.SuiteResult) ([]*RunEvent, error) {
	var events []*RunEvent
	add := func(eventType, testID string, payload map[string]any, ts time.Time) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		events = append(events, &RunEvent{
			RunID:     result.RunID,
			Type:      eventType,
			TestID:    testID,
			Payload:   raw,
			Timestamp: timeOrNow(ts),
			Sequence:  int64(len(events) + 1),
		})
		return nil
	}

	err := add(schema.EventSuiteStarted, "", map[string]any{
		"suite_name": result.SuiteName,
		"tests":      result.Total,
	}, result.StartedAt)
	if err != nil {
		return nil, err
	}

	for i := range result.Results {
		tr := &result.Results[i]
		if tr.Status != suite.TestSkipped {
			if err := add(schema.EventTestStarted, tr.TestID, map[string]any{
				"test_name": tr.TestName,
				"kind":      string(tr.Kind),
			}, tr.StartedAt); err != nil {
				return nil, err
			}
		}
		if err := add(schema.EventTestCompleted, tr.TestID, map[string]any{
			"status":      string(tr.Status),
			"duration_ms": int64(tr.Duration),
		}, tr.StartedAt.Add(time.Duration(tr.Duration)*time.Millisecond)); err != nil {
			return nil, err
		}
	}

	if err := add(schema.EventSuiteCompleted, "", map[string]any{
		"passed":    result.Passed,
		"failed":    result.Failed,
		"errors":    result.Errors,
		"timeouts":  result.Timeouts,
		"skipped":   result.Skipped,
		"pass_rate": result.PassRate,
	}, result.StartedAt.Add(time.Duration(result.Duration)*time.Millisecond)); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *LibSQLStore) GetSuiteRun(ctx context.Context, runID string) (*suite.SuiteResult, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM suite_runs WHERE run_id = ?`, runID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("suite run", runID)
	}
	if err != nil {
		return nil, err
	}
	result := &suite.SuiteResult{}
	if err := json.Unmarshal([]byte(blob), result); err != nil {
		return nil, fmt.Errorf("unmarshal suite run %s: %w", runID, err)
	}
	return result, nil
}

func (s *LibSQLStore) ListSuiteRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var where []string
	var args []any

	if filter.SuiteName != "" {
		where = append(where, "suite_name = ?")
		args = append(args, filter.SuiteName)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT run_id, suite_id, suite_name, started_at, duration_ms, total, passed, failed, errors, timeouts, skipped, pass_rate, created_at FROM suite_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		r := &RunRecord{}
		var suiteID sql.NullString
		var duration int64
		if err := rows.Scan(&r.RunID, &suiteID, &r.SuiteName, &r.StartedAt, &duration,
			&r.Total, &r.Passed, &r.Failed, &r.Errors, &r.Timeouts, &r.Skipped,
			&r.PassRate, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.SuiteID = suiteID.String
		r.Duration = schema.Millis(duration)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *LibSQLStore) ListTestResults(ctx context.Context, filter TestFilter) ([]*TestRecord, error) {
	var where []string
	var args []any

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	query := `SELECT run_id, test_id, test_name, kind, status, started_at, duration_ms, workflow_execution_id, journey_execution_id, score, error, detail FROM test_results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TestRecord
	for rows.Next() {
		r := &TestRecord{}
		var name, kind, wfExec, jnExec, errMsg, detail sql.NullString
		var status string
		var duration int64
		if err := rows.Scan(&r.RunID, &r.TestID, &name, &kind, &status, &r.StartedAt, &duration,
			&wfExec, &jnExec, &r.Score, &errMsg, &detail); err != nil {
			return nil, err
		}
		r.TestName = name.String
		r.Kind = suite.TestKind(kind.String)
		r.Status = suite.TestStatus(status)
		r.Duration = schema.Millis(duration)
		r.WorkflowExecutionID = wfExec.String
		r.JourneyExecutionID = jnExec.String
		r.Error = errMsg.String
		r.Detail = rawOrNil(detail)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Run events ---

func (s *LibSQLStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	if event == nil || event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run event needs a run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone starts a deferred transaction. Force
	// write-lock acquisition with a noop write so concurrent appenders
	// cannot interleave their sequence reads and inserts.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, test_id, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Type, nullStr(event.TestID), nullRaw(event.Payload),
		timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_type, test_id, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunEvents(rows)
}

// GetRunEventsByType returns events of one type across runs, newest first.
func (s *LibSQLStore) GetRunEventsByType(ctx context.Context, eventType string, filter RunEventFilter) ([]*RunEvent, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.TestID != "" {
		where = append(where, "test_id = ?")
		args = append(args, filter.TestID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, run_id, event_type, test_id, payload, timestamp, sequence FROM run_events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunEvents(rows)
}

func scanRunEvents(rows *sql.Rows) ([]*RunEvent, error) {
	var events []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var testID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &testID, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.TestID = testID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched == nil || sched.ID == "" || sched.SuiteName == "" || sched.CronExpression == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule needs an id, suite name, and cron expression")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, suite_name, cron_expression, enabled, last_run_at, next_run_at, last_run_id, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.SuiteName, sched.CronExpression, sched.Enabled,
		nullTime(sched.LastRunAt), nullTime(sched.NextRunAt),
		nullStr(sched.LastRunID), nullStr(sched.LastRunStatus), timeOrNow(sched.CreatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "schedule %q already exists", sched.ID)
	}
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sched := &Schedule{}
	var lastRunAt, nextRunAt sql.NullTime
	var lastRunID, lastRunStatus sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, suite_name, cron_expression, enabled, last_run_at, next_run_at, last_run_id, last_run_status, created_at
		 FROM schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.SuiteName, &sched.CronExpression, &sched.Enabled,
		&lastRunAt, &nextRunAt, &lastRunID, &lastRunStatus, &sched.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		sched.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		sched.NextRunAt = &nextRunAt.Time
	}
	sched.LastRunID = lastRunID.String
	sched.LastRunStatus = lastRunStatus.String
	return sched, nil
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.CronExpression != "" {
		sets = append(sets, "cron_expression = ?")
		args = append(args, update.CronExpression)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunID != "" {
		sets = append(sets, "last_run_id = ?")
		args = append(args, update.LastRunID)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE schedules SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var where []string
	var args []any

	if filter.SuiteName != "" {
		where = append(where, "suite_name = ?")
		args = append(args, filter.SuiteName)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	query := `SELECT id, suite_name, cron_expression, enabled, last_run_at, next_run_at, last_run_id, last_run_status, created_at FROM schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched := &Schedule{}
		var lastRunAt, nextRunAt sql.NullTime
		var lastRunID, lastRunStatus sql.NullString
		if err := rows.Scan(&sched.ID, &sched.SuiteName, &sched.CronExpression, &sched.Enabled,
			&lastRunAt, &nextRunAt, &lastRunID, &lastRunStatus, &sched.CreatedAt); err != nil {
			return nil, err
		}
		if lastRunAt.Valid {
			sched.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			sched.NextRunAt = &nextRunAt.Time
		}
		sched.LastRunID = lastRunID.String
		sched.LastRunStatus = lastRunStatus.String
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.TandemError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
