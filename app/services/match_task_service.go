package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unit-linkage/app/config"
	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/helpers/utils"
	"github.com/unit-linkage/internal/matcher"
	"github.com/unit-linkage/internal/store"
)

// RecordMatcher quyết định counterpart cho một PRIMARY unit.
type RecordMatcher interface {
	Match(ctx context.Context, primary *models.Unit) matcher.Outcome
}

// layerMatcher is the optional narrowing a matcher may support when a task
// restricts which layers run.
type layerMatcher interface {
	MatchLayers(ctx context.Context, primary *models.Unit, layers []models.MatchType) matcher.Outcome
}

// PrimarySource is the paged, id-ordered read surface over the primary
// registry. Pages are keyed strictly after an id, so a reissued cursor
// resumes exactly where the previous one stopped.
type PrimarySource interface {
	CountPrimaries(ctx context.Context) (int64, error)
	PrimaryPage(ctx context.Context, afterID string, limit int) ([]*models.Unit, error)
}

// ResultSink is the write surface of the linkage-result store.
type ResultSink interface {
	BulkUpsert(ctx context.Context, results []*models.LinkageResult) (*store.UpsertReport, error)
	ClearAll(ctx context.Context) (int64, error)
	ExistingPrimaryIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	CountPrimariesWithoutResult(ctx context.Context) (int64, error)
}

// StartTaskRequest tham số khởi động một matching task.
type StartTaskRequest struct {
	Mode          models.TaskMode
	BatchSize     int
	Strategies    []models.MatchType
	ClearExisting bool
	ResumeTaskID  string
}

// storeRetries bounds the exponential backoff on transient store failures.
const storeRetries = 3

// smaWindowSize is how many recent per-record timings feed the remaining-time
// estimate.
const smaWindowSize = 1000

type taskHandle struct {
	task   *models.MatchTask
	cancel context.CancelFunc
	window *durationWindow
}

// MatchTaskService is the batch engine: it owns the task registry, drives the
// page loop and is the only writer of linkage results while a task runs. One
// task at a time; a second start is refused, not queued.
type MatchTaskService struct {
	units    PrimarySource
	results  ResultSink
	matcher  RecordMatcher
	progress *TaskProgressCache
	batchCfg config.BatchCfg
	logger   *zap.Logger

	mu        sync.RWMutex
	tasks     map[string]*taskHandle
	runningID string
}

// NewMatchTaskService khởi tạo engine. progress có thể nil khi Redis không
// được bật.
func NewMatchTaskService(units PrimarySource, results ResultSink, recordMatcher RecordMatcher,
	progress *TaskProgressCache, batchCfg config.BatchCfg, logger *zap.Logger) *MatchTaskService {
	return &MatchTaskService{
		units:    units,
		results:  results,
		matcher:  recordMatcher,
		progress: progress,
		batchCfg: batchCfg,
		logger:   logger,
		tasks:    make(map[string]*taskHandle),
	}
}

// StartTask validates the request, claims the single-runner slot and launches
// the page loop. Contract errors come back synchronously; everything after
// the launch surfaces through Progress.
func (s *MatchTaskService) StartTask(ctx context.Context, req StartTaskRequest) (string, error) {
	mode := req.Mode
	strategies := req.Strategies
	clearExisting := req.ClearExisting
	taskID := ""
	resumeAfter := ""

	if req.ResumeTaskID != "" {
		snapshot, err := s.progress.LoadTask(ctx, req.ResumeTaskID)
		if err != nil {
			return "", err
		}
		if snapshot.Status != models.TaskStatusRunning {
			return "", fmt.Errorf("%w: task %s already %s", ErrTaskNotRunning, snapshot.TaskID, snapshot.Status)
		}
		taskID = snapshot.TaskID
		mode = snapshot.Mode
		strategies = snapshot.MatchStrategies
		// A resumed run never re-clears; the original run already did.
		clearExisting = false
		resumeAfter = snapshot.LastProcessedPrimaryID
	}
	if !models.IsValidTaskMode(mode) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	for _, st := range strategies {
		if !models.IsValidMatchType(st) || st == models.MatchTypeNone {
			return "", fmt.Errorf("%w: %q", ErrInvalidMatchStrategy, st)
		}
	}
	if taskID == "" {
		taskID = utils.GenerateUUID()
	}

	primaryCount, err := s.units.CountPrimaries(ctx)
	if err != nil {
		return "", fmt.Errorf("count primaries: %w", err)
	}
	if primaryCount == 0 {
		return "", ErrEmptyPrimary
	}

	s.mu.Lock()
	if s.runningID != "" {
		running := s.runningID
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, running)
	}
	taskCtx := context.Background()
	var cancel context.CancelFunc
	if d := s.batchCfg.TaskDeadline(); d > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, d)
	} else {
		taskCtx, cancel = context.WithCancel(taskCtx)
	}
	handle := &taskHandle{
		task: &models.MatchTask{
			TaskID:                 taskID,
			Mode:                   mode,
			MatchStrategies:        strategies,
			ClearExisting:          clearExisting,
			Status:                 models.TaskStatusRunning,
			StartedAt:              time.Now(),
			LastProcessedPrimaryID: resumeAfter,
		},
		cancel: cancel,
		window: newDurationWindow(smaWindowSize),
	}
	s.tasks[taskID] = handle
	s.runningID = taskID
	s.mu.Unlock()

	if !s.progress.AcquireRunLock(ctx, taskID) {
		s.mu.Lock()
		delete(s.tasks, taskID)
		s.runningID = ""
		s.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: held by another process", ErrTaskAlreadyRunning)
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchCfg.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	s.logger.Info("matching task started",
		zap.String("task_id", taskID),
		zap.String("mode", string(mode)),
		zap.Int("batch_size", batchSize),
		zap.String("resume_after", resumeAfter))

	go s.run(taskCtx, handle, batchSize)
	return taskID, nil
}

// run is the page loop. It is the sole mutator of the handle's task after
// launch; readers go through the service lock.
func (s *MatchTaskService) run(ctx context.Context, h *taskHandle, batchSize int) {
	taskID := h.task.TaskID
	defer h.cancel()
	defer func() {
		s.mu.Lock()
		if s.runningID == taskID {
			s.runningID = ""
		}
		snapshot := *h.task
		s.mu.Unlock()

		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.progress.SaveTask(releaseCtx, &snapshot)
		s.progress.ReleaseRunLock(releaseCtx, taskID)
	}()

	if h.task.Mode == models.ModeFull || h.task.ClearExisting {
		if err := s.clearWithRetry(ctx); err != nil {
			s.fail(h, fmt.Sprintf("clear existing results: %v", err))
			return
		}
	}

	total, err := s.snapshotTotal(ctx, h.task.Mode)
	if err != nil {
		s.fail(h, fmt.Sprintf("snapshot input size: %v", err))
		return
	}
	s.mu.Lock()
	h.task.Counters.Total = total
	s.mu.Unlock()
	s.progress.SaveTask(ctx, h.task)

	cursor := h.task.LastProcessedPrimaryID
	for {
		if ctx.Err() != nil {
			s.finish(h, ctx)
			return
		}

		page, err := s.pageWithRetry(ctx, cursor, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				s.finish(h, ctx)
				return
			}
			s.fail(h, fmt.Sprintf("read primary page after %q: %v", cursor, err))
			return
		}
		if len(page) == 0 {
			s.complete(h)
			return
		}

		workSet := page
		if h.task.Mode == models.ModeIncremental {
			workSet, err = s.filterUnprocessed(ctx, page)
			if err != nil {
				s.fail(h, fmt.Sprintf("filter processed primaries: %v", err))
				return
			}
		}

		results, cancelled := s.matchPage(ctx, h, workSet)

		if len(results) > 0 {
			report, err := s.flushWithRetry(results)
			if err != nil {
				s.fail(h, fmt.Sprintf("flush page: %v", err))
				return
			}
			s.accumulate(h, results, report, page)
		} else {
			s.accumulate(h, nil, &store.UpsertReport{}, page)
		}
		s.progress.SaveTask(context.Background(), h.task)

		if cancelled || ctx.Err() != nil {
			s.finish(h, ctx)
			return
		}
		cursor = page[len(page)-1].UnitID
		if len(page) < batchSize {
			s.complete(h)
			return
		}
	}
}

// matchPage runs the worker pool over one page. Workers only compute; the
// coordinator owns the flush and every counter. Cancellation is observed
// between records: in-flight records finish and their results still flush.
func (s *MatchTaskService) matchPage(ctx context.Context, h *taskHandle, workSet []*models.Unit) ([]*models.LinkageResult, bool) {
	results := make([]*models.LinkageResult, len(workSet))
	durations := make([]time.Duration, len(workSet))
	deadline := s.batchCfg.PerRecordDeadline()

	g := new(errgroup.Group)
	g.SetLimit(s.workers())

	cancelled := false
	scheduled := 0
	for i, unit := range workSet {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		i, unit := i, unit
		scheduled++
		g.Go(func() error {
			recCtx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()

			start := time.Now()
			outcome := s.matchRecord(recCtx, unit, h.task.MatchStrategies)
			durations[i] = time.Since(start)
			results[i] = buildLinkageResult(unit, outcome)
			return nil
		})
	}
	_ = g.Wait()

	flush := make([]*models.LinkageResult, 0, scheduled)
	for i := 0; i < scheduled; i++ {
		if results[i] != nil {
			flush = append(flush, results[i])
			h.window.record(durations[i])
		}
	}
	return flush, cancelled
}

// matchRecord dispatches to the layer-restricted entry point when the task
// carries a strategy selection and the matcher supports it.
func (s *MatchTaskService) matchRecord(ctx context.Context, unit *models.Unit, layers []models.MatchType) matcher.Outcome {
	if len(layers) > 0 {
		if lm, ok := s.matcher.(layerMatcher); ok {
			return lm.MatchLayers(ctx, unit, layers)
		}
	}
	return s.matcher.Match(ctx, unit)
}

// accumulate folds one page into the task counters under the service lock.
// The read cursor advances through the whole page read, including records an
// incremental task skipped, so last_processed_primary_id never regresses.
func (s *MatchTaskService) accumulate(h *taskHandle, flushed []*models.LinkageResult, report *store.UpsertReport, page []*models.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &h.task.Counters
	for _, r := range flushed {
		c.Processed++
		switch {
		case r.IsTransient():
			c.Errored++
		case r.HasMatch():
			c.Matched++
		default:
			c.Skipped++
		}
	}
	c.Updated += report.Modified
	h.task.CurrentBatchIndex++
	h.task.LastProcessedPrimaryID = page[len(page)-1].UnitID
}

func (s *MatchTaskService) snapshotTotal(ctx context.Context, mode models.TaskMode) (int64, error) {
	if mode == models.ModeIncremental {
		return s.results.CountPrimariesWithoutResult(ctx)
	}
	return s.units.CountPrimaries(ctx)
}

func (s *MatchTaskService) filterUnprocessed(ctx context.Context, page []*models.Unit) ([]*models.Unit, error) {
	ids := make([]string, len(page))
	for i, u := range page {
		ids[i] = u.UnitID
	}
	existing, err := s.results.ExistingPrimaryIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := page[:0:0]
	for _, u := range page {
		if _, done := existing[u.UnitID]; !done {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MatchTaskService) workers() int {
	if s.batchCfg.WorkersPerPage > 0 {
		return s.batchCfg.WorkersPerPage
	}
	return 4
}

func (s *MatchTaskService) pageWithRetry(ctx context.Context, cursor string, limit int) ([]*models.Unit, error) {
	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}
		page, err := s.units.PrimaryPage(ctx, cursor, limit)
		if err == nil {
			return page, nil
		}
		lastErr = err
		s.logger.Warn("primary page read failed, reissuing cursor",
			zap.String("after", cursor), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

// flushWithRetry persists one page. The flush context is detached from the
// task context so a cancelled task still lands its computed page.
func (s *MatchTaskService) flushWithRetry(results []*models.LinkageResult) (*store.UpsertReport, error) {
	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		report, err := s.results.BulkUpsert(ctx, results)
		cancel()
		if err == nil {
			return report, nil
		}
		lastErr = err
		s.logger.Warn("bulk upsert failed",
			zap.Int("attempt", attempt+1), zap.Int("page_size", len(results)), zap.Error(err))
	}
	return nil, lastErr
}

func (s *MatchTaskService) clearWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		deleted, err := s.results.ClearAll(ctx)
		if err == nil {
			s.logger.Info("full mode cleared existing results", zap.Int64("deleted", deleted))
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
}

func (s *MatchTaskService) complete(h *taskHandle) {
	s.terminate(h, models.TaskStatusCompleted, "")
	s.logger.Info("matching task completed",
		zap.String("task_id", h.task.TaskID),
		zap.Int64("processed", h.task.Counters.Processed),
		zap.Int64("matched", h.task.Counters.Matched))
}

// finish resolves a context interruption: explicit cancel becomes stopped,
// a blown task deadline becomes error.
func (s *MatchTaskService) finish(h *taskHandle, ctx context.Context) {
	if ctx.Err() == context.DeadlineExceeded {
		s.fail(h, "task deadline exceeded")
		return
	}
	s.terminate(h, models.TaskStatusStopped, "")
	s.logger.Info("matching task stopped",
		zap.String("task_id", h.task.TaskID),
		zap.Int64("processed", h.task.Counters.Processed))
}

func (s *MatchTaskService) fail(h *taskHandle, cause string) {
	s.terminate(h, models.TaskStatusError, cause)
	s.logger.Error("matching task failed",
		zap.String("task_id", h.task.TaskID), zap.String("cause", cause))
}

func (s *MatchTaskService) terminate(h *taskHandle, status, cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	h.task.Status = status
	h.task.FinishedAt = &now
	h.task.ErrorMessage = cause
}

// Stop requests cooperative cancellation. The current page still flushes;
// the task transitions to stopped within one page worth of work.
func (s *MatchTaskService) Stop(taskID string) error {
	s.mu.RLock()
	h, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownTask
	}
	s.mu.RLock()
	terminal := h.task.IsTerminal()
	s.mu.RUnlock()
	if terminal {
		return ErrTaskNotRunning
	}
	h.cancel()
	return nil
}

// Progress trả về snapshot tiến độ của một task.
func (s *MatchTaskService) Progress(taskID string) (*models.TaskProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	t := h.task
	c := t.Counters

	p := &models.TaskProgress{
		TaskID:    t.TaskID,
		Status:    t.Status,
		Total:     c.Total,
		Processed: c.Processed,
		Matched:   c.Matched,
		Errored:   c.Errored,
	}
	if c.Total > 0 {
		p.ProgressPercent = round2(float64(c.Processed) / float64(c.Total) * 100)
	} else if t.IsTerminal() {
		p.ProgressPercent = 100
	}
	if c.Processed > 0 {
		p.MatchRate = round2(float64(c.Matched) / float64(c.Processed))
	}
	end := time.Now()
	if t.FinishedAt != nil {
		end = *t.FinishedAt
	}
	p.ElapsedSeconds = round2(end.Sub(t.StartedAt).Seconds())
	if !t.IsTerminal() {
		if perRecord := h.window.mean(); perRecord > 0 && c.Total > c.Processed {
			remaining := float64(c.Total - c.Processed)
			p.EstimatedRemainingSeconds = round2(remaining * perRecord.Seconds() / float64(s.workers()))
		}
	}
	return p, nil
}

// ListTasks trả về lịch sử task, mới nhất trước.
func (s *MatchTaskService) ListTasks() []*models.MatchTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.MatchTask, 0, len(s.tasks))
	for _, h := range s.tasks {
		snapshot := *h.task
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// buildLinkageResult converts a matcher outcome into the persisted record.
func buildLinkageResult(primary *models.Unit, outcome matcher.Outcome) *models.LinkageResult {
	matchedID := ""
	var matchedSnapshot models.UnitSnapshot
	if outcome.Matched != nil {
		matchedID = outcome.Matched.UnitID
		matchedSnapshot = models.SnapshotOf(outcome.Matched)
	}
	r := &models.LinkageResult{
		MatchID:         models.MatchIDFor(primary.UnitID, matchedID),
		PrimaryID:       primary.UnitID,
		Primary:         models.SnapshotOf(primary),
		MatchedID:       matchedID,
		Matched:         matchedSnapshot,
		MatchType:       outcome.Type,
		SimilarityScore: outcome.Score,
		MatchConfidence: models.ConfidenceFor(outcome.Type, outcome.Score),
		Explanation:     outcome.Explanation,
		ReviewStatus:    models.ReviewStatusPending,
	}
	if r.IsTransient() {
		r.ReviewNotes = models.ReviewNoteTransient
	}
	return r
}

// durationWindow is a fixed-size ring of recent per-record timings feeding
// the moving-average ETA.
type durationWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newDurationWindow(size int) *durationWindow {
	return &durationWindow{samples: make([]time.Duration, size)}
}

func (w *durationWindow) record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *durationWindow) mean() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(n)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
