package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/pkg/schema"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests and ephemeral runs. It
// mirrors the libSQL backend by keeping marshaled definitions, so values
// round-trip through JSON exactly like the durable store.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string]*memGraph
	journeys    map[string]*memGraph
	suites      map[string]*memGraph
	runs        map[string]*memRun
	events      map[string][]*RunEvent
	schedules   map[string]*Schedule
	nextEventID int64
}

type memGraph struct {
	name       string
	workflowID string
	def        []byte
	createdAt  time.Time
	updatedAt  time.Time
}

type memRun struct {
	record RunRecord
	blob   []byte
	tests  []*TestRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*memGraph),
		journeys:  make(map[string]*memGraph),
		suites:    make(map[string]*memGraph),
		runs:      make(map[string]*memRun),
		events:    make(map[string][]*RunEvent),
		schedules: make(map[string]*Schedule),
	}
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Vacuum is a no-op for the in-memory store.
func (s *MemoryStore) Vacuum(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// --- Workflows ---

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow needs an id to be saved")
	}
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = upsertGraph(s.workflows[wf.ID], wf.Name, "", def)
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	s.mu.RLock()
	g, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(g.def, wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return wf, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, filter GraphFilter) ([]*schema.Workflow, error) {
	s.mu.RLock()
	graphs := filterGraphs(s.workflows, filter)
	s.mu.RUnlock()

	var workflows []*schema.Workflow
	for _, g := range graphs {
		wf := &schema.Workflow{}
		if err := json.Unmarshal(g.def, wf); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return storeNotFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

// --- Journeys ---

func (s *MemoryStore) SaveJourney(ctx context.Context, j *schema.Journey) error {
	if j == nil || j.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "journey needs an id to be saved")
	}
	def, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal journey: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.journeys[j.ID] = upsertGraph(s.journeys[j.ID], j.Name, j.WorkflowID, def)
	return nil
}

func (s *MemoryStore) GetJourney(ctx context.Context, id string) (*schema.Journey, error) {
	s.mu.RLock()
	g, ok := s.journeys[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("journey", id)
	}
	return unmarshalJourney(string(g.def))
}

func (s *MemoryStore) JourneyForWorkflow(ctx context.Context, workflowID string) (*schema.Journey, error) {
	s.mu.RLock()
	var latest *memGraph
	for _, g := range s.journeys {
		if g.workflowID != workflowID {
			continue
		}
		if latest == nil || g.updatedAt.After(latest.updatedAt) {
			latest = g
		}
	}
	s.mu.RUnlock()

	if latest == nil {
		return nil, storeNotFound("journey for workflow", workflowID)
	}
	return unmarshalJourney(string(latest.def))
}

func (s *MemoryStore) ListJourneys(ctx context.Context, filter GraphFilter) ([]*schema.Journey, error) {
	s.mu.RLock()
	graphs := filterGraphs(s.journeys, filter)
	s.mu.RUnlock()

	var journeys []*schema.Journey
	for _, g := range graphs {
		j, err := unmarshalJourney(string(g.def))
		if err != nil {
			return nil, err
		}
		journeys = append(journeys, j)
	}
	return journeys, nil
}

func (s *MemoryStore) DeleteJourney(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.journeys[id]; !ok {
		return storeNotFound("journey", id)
	}
	delete(s.journeys, id)
	return nil
}

// --- Suites ---

func (s *MemoryStore) SaveSuite(ctx context.Context, ts *suite.TestSuite) error {
	if ts == nil || ts.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "suite needs a name to be saved")
	}
	def, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshal suite: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.suites[ts.Name] = upsertGraph(s.suites[ts.Name], ts.Name, "", def)
	return nil
}

func (s *MemoryStore) GetSuite(ctx context.Context, name string) (*suite.TestSuite, error) {
	s.mu.RLock()
	g, ok := s.suites[name]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("suite", name)
	}
	ts := &suite.TestSuite{}
	if err := json.Unmarshal(g.def, ts); err != nil {
		return nil, fmt.Errorf("unmarshal suite %s: %w", name, err)
	}
	return ts, nil
}

func (s *MemoryStore) ListSuites(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.suites))
	for name := range s.suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) DeleteSuite(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suites[name]; !ok {
		return storeNotFound("suite", name)
	}
	delete(s.suites, name)
	return nil
}

// --- Suite runs ---

func (s *MemoryStore) SaveSuiteRun(ctx context.Context, result *suite.SuiteResult) error {
	if result == nil || result.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "suite run needs a run id to be saved")
	}
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal suite run: %w", err)
	}

	run := &memRun{
		record: RunRecord{
			RunID:     result.RunID,
			SuiteID:   result.SuiteID,
			SuiteName: result.SuiteName,
			StartedAt: timeOrNow(result.StartedAt),
			Duration:  result.Duration,
			Total:     result.Total,
			Passed:    result.Passed,
			Failed:    result.Failed,
			Errors:    result.Errors,
			Timeouts:  result.Timeouts,
			Skipped:   result.Skipped,
			PassRate:  result.PassRate,
			CreatedAt: time.Now().UTC(),
		},
		blob: blob,
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
		run.tests = append(run.tests, &TestRecord{
			RunID:               result.RunID,
			TestID:              tr.TestID,
			TestName:            tr.TestName,
			Kind:                tr.Kind,
			Status:              tr.Status,
			StartedAt:           tr.StartedAt,
			Duration:            tr.Duration,
			WorkflowExecutionID: tr.WorkflowExecutionID,
			JourneyExecutionID:  tr.JourneyExecutionID,
			Score:               score,
			Error:               tr.Error,
			Detail:              detail,
		})
	}

	events, err := buildRunEvents(result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[result.RunID]; ok {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "run %q is already persisted", result.RunID)
	}
	s.runs[result.RunID] = run
	for _, e := range events {
		s.nextEventID++
		e.ID = s.nextEventID
		s.events[result.RunID] = append(s.events[result.RunID], e)
	}
	return nil
}

func (s *MemoryStore) GetSuiteRun(ctx context.Context, runID string) (*suite.SuiteResult, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("suite run", runID)
	}
	result := &suite.SuiteResult{}
	if err := json.Unmarshal(run.blob, result); err != nil {
		return nil, fmt.Errorf("unmarshal suite run %s: %w", runID, err)
	}
	return result, nil
}

func (s *MemoryStore) ListSuiteRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	s.mu.RLock()
	var records []*RunRecord
	for _, run := range s.runs {
		if filter.SuiteName != "" && run.record.SuiteName != filter.SuiteName {
			continue
		}
		if filter.Since != nil && run.record.StartedAt.Before(*filter.Since) {
			continue
		}
		rec := run.record
		records = append(records, &rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *MemoryStore) ListTestResults(ctx context.Context, filter TestFilter) ([]*TestRecord, error) {
	s.mu.RLock()
	var records []*TestRecord
	for runID, run := range s.runs {
		if filter.RunID != "" && runID != filter.RunID {
			continue
		}
		for _, tr := range run.tests {
			if filter.Status != "" && tr.Status != filter.Status {
				continue
			}
			if filter.Kind != "" && tr.Kind != filter.Kind {
				continue
			}
			rec := *tr
			records = append(records, &rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

// --- Run events ---

func (s *MemoryStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	if event == nil || event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run event needs a run id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trail := s.events[event.RunID]
	event.Sequence = 1
	if n := len(trail); n > 0 {
		event.Sequence = trail[n-1].Sequence + 1
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.nextEventID++
	event.ID = s.nextEventID

	stored := *event
	s.events[event.RunID] = append(trail, &stored)
	return nil
}

func (s *MemoryStore) GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*RunEvent
	for _, e := range s.events[runID] {
		if e.Sequence <= since {
			continue
		}
		copied := *e
		events = append(events, &copied)
	}
	return events, nil
}

// --- Schedules ---

func (s *MemoryStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched == nil || sched.ID == "" || sched.SuiteName == "" || sched.CronExpression == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule needs an id, suite name, and cron expression")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "schedule %q already exists", sched.ID)
	}
	stored := copySchedule(sched)
	stored.CreatedAt = timeOrNow(sched.CreatedAt)
	s.schedules[sched.ID] = stored
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, storeNotFound("schedule", id)
	}
	return copySchedule(sched), nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return storeNotFound("schedule", id)
	}
	if update.CronExpression != "" {
		sched.CronExpression = update.CronExpression
	}
	if update.Enabled != nil {
		sched.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		sched.LastRunAt = &t
	}
	if update.NextRunAt != nil {
		t := *update.NextRunAt
		sched.NextRunAt = &t
	}
	if update.LastRunID != "" {
		sched.LastRunID = update.LastRunID
	}
	if update.LastRunStatus != "" {
		sched.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	s.mu.RLock()
	var schedules []*Schedule
	for _, sched := range s.schedules {
		if filter.SuiteName != "" && sched.SuiteName != filter.SuiteName {
			continue
		}
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		schedules = append(schedules, copySchedule(sched))
	}
	s.mu.RUnlock()

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	if filter.Limit > 0 && len(schedules) > filter.Limit {
		schedules = schedules[:filter.Limit]
	}
	return schedules, nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return storeNotFound("schedule", id)
	}
	delete(s.schedules, id)
	return nil
}

// --- Helpers ---

func upsertGraph(existing *memGraph, name, workflowID string, def []byte) *memGraph {
	now := time.Now().UTC()
	g := &memGraph{name: name, workflowID: workflowID, def: def, createdAt: now, updatedAt: now}
	if existing != nil {
		g.createdAt = existing.createdAt
	}
	return g
}

func filterGraphs(graphs map[string]*memGraph, filter GraphFilter) []*memGraph {
	var matched []*memGraph
	for _, g := range graphs {
		if filter.Name != "" && g.name != filter.Name {
			continue
		}
		if filter.Since != nil && g.createdAt.Before(*filter.Since) {
			continue
		}
		matched = append(matched, g)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].createdAt.After(matched[j].createdAt)
	})
	if filter.Limit > 0 {
		end := filter.Offset + filter.Limit
		if filter.Offset >= len(matched) {
			return nil
		}
		if end > len(matched) {
			end = len(matched)
		}
		return matched[filter.Offset:end]
	}
	return matched
}

func copySchedule(sched *Schedule) *Schedule {
	copied := *sched
	if sched.LastRunAt != nil {
		t := *sched.LastRunAt
		copied.LastRunAt = &t
	}
	if sched.NextRunAt != nil {
		t := *sched.NextRunAt
		copied.NextRunAt = &t
	}
	return &copied
}
