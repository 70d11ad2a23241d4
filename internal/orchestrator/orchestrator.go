// Package orchestrator drives a full crawl: list collection over the site's
// paginated catalog, then detail collection for every product lacking
// extended attributes. One Orchestrator instance owns one crawl's state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
	"github.com/Chanseok/matter-certis-crawler/internal/pool"
	"github.com/Chanseok/matter-certis-crawler/internal/progress"
	"github.com/Chanseok/matter-certis-crawler/internal/retry"
	"github.com/Chanseok/matter-certis-crawler/internal/snapshot"
)

// State is the orchestrator's lifecycle phase.
type State string

// States. Stopping is transient: a user-requested stop always resolves to
// Completed with partial data, never to Failed.
const (
	StateIdle             State = "idle"
	StateListCollection   State = "list-collection"
	StateDetailCollection State = "detail-collection"
	StateStopping         State = "stopping"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

var stateTransitions = map[State][]State{
	StateIdle:             {StateListCollection},
	StateListCollection:   {StateDetailCollection, StateStopping, StateFailed},
	StateDetailCollection: {StateCompleted, StateStopping, StateFailed},
	StateStopping:         {StateCompleted},
	StateCompleted:        nil,
	StateFailed:           nil,
}

// ErrAlreadyRunning is returned when Run is called while a crawl is active.
var ErrAlreadyRunning = errors.New("a crawl is already running")

// Config tunes batching, retries, and validation arithmetic.
type Config struct {
	// ProductsPerPage is the expected record count on every non-last page.
	ProductsPerPage int
	// BatchSize bounds how many page ids are grouped per batch.
	BatchSize int
	// BatchDelay is the pause between consecutive batches.
	BatchDelay time.Duration
	// BatchRetries re-drives a batch's still-failing pages; it is counted
	// separately from the per-page retry budget.
	BatchRetries int
	PageRetries  int
	RetryBase    time.Duration
	RetryMax     time.Duration
	// ArchivePages stores each fetched page's raw markup when an archiver
	// is configured.
	ArchivePages bool
}

func (c Config) withDefaults() Config {
	if c.ProductsPerPage <= 0 {
		c.ProductsPerPage = 12
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchRetries < 0 {
		c.BatchRetries = 0
	}
	if c.PageRetries <= 0 {
		c.PageRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
	return c
}

// Result summarizes one finished crawl.
type Result struct {
	SessionID       string
	State           State
	TotalPages      int
	PagesFetched    int
	PagesIncomplete []int
	ProductsNew     int
	ProductsUpdated int
	DetailFailures  []string
	Partial         bool
	SnapshotURI     string
}

// Orchestrator composes the fetcher, scheduler, store, and tracker into the
// two-stage crawl.
type Orchestrator struct {
	cfg      Config
	fetcher  catalog.PageFetcher
	store    catalog.ProductStore
	sched    *pool.Scheduler
	tracker  *progress.Tracker
	archiver *snapshot.Archiver
	logger   *zap.Logger

	sessionID string

	mu           sync.Mutex
	state        State
	running      bool
	fetchedPages int
}

// New builds an orchestrator. The archiver is optional; everything else is
// required.
func New(fetcher catalog.PageFetcher, store catalog.ProductStore, sched *pool.Scheduler, tracker *progress.Tracker, archiver *snapshot.Archiver, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := uuid.NewString()
	if tracker == nil {
		tracker = progress.NewTracker(sessionID)
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		fetcher:   fetcher,
		store:     store,
		sched:     sched,
		tracker:   tracker,
		archiver:  archiver,
		logger:    logger,
		sessionID: sessionID,
		state:     StateIdle,
	}, nil
}

// SessionID identifies this crawl in logs, progress events, and snapshots.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Tracker returns the progress tracker, for observer registration and the
// status endpoint.
func (o *Orchestrator) Tracker() *progress.Tracker { return o.tracker }

// IsRunning reports the process-wide mutual-exclusion flag.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RequestStop asks the crawl to wind down after in-flight work completes.
func (o *Orchestrator) RequestStop() {
	o.sched.RequestStop()
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, allowed := range stateTransitions[o.state] {
		if allowed == to {
			o.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", o.state, to)
}

// Run executes the crawl. A second concurrent call returns
// ErrAlreadyRunning. Stage-level failures (for example the page count being
// unobtainable) return an error with the result's State set to Failed;
// user-requested stops return a Completed result with Partial set.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	result := Result{SessionID: o.sessionID, State: StateFailed}

	if err := o.transition(StateListCollection); err != nil {
		return result, err
	}

	listOut, err := o.runListStage(ctx, &result)
	result.PagesFetched = o.fetchedCount()
	if err != nil {
		_ = o.transition(StateFailed)
		o.tracker.Fail(err.Error())
		return result, fmt.Errorf("list collection: %w", err)
	}
	if o.stopRequested(ctx) {
		return o.finishPartial(ctx, &result, listOut)
	}

	if err := o.transition(StateDetailCollection); err != nil {
		return result, err
	}
	if err := o.runDetailStage(ctx, &result); err != nil {
		_ = o.transition(StateFailed)
		o.tracker.Fail(err.Error())
		return result, fmt.Errorf("detail collection: %w", err)
	}
	if o.stopRequested(ctx) {
		return o.finishPartial(ctx, &result, listOut)
	}

	if err := o.transition(StateCompleted); err != nil {
		return result, err
	}
	result.State = StateCompleted
	o.tracker.Complete()
	o.archiveSession(ctx, &result, listOut)
	return result, nil
}

func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	return o.sched.Stopped() || ctx.Err() != nil
}

// finishPartial resolves a stop request: Stopping, then Completed with the
// partial flag set. Everything persisted so far is kept.
func (o *Orchestrator) finishPartial(ctx context.Context, result *Result, listOut listOutcome) (Result, error) {
	if err := o.transition(StateStopping); err != nil {
		return *result, err
	}
	if err := o.transition(StateCompleted); err != nil {
		return *result, err
	}
	result.State = StateCompleted
	result.Partial = true
	o.tracker.Complete()
	o.archiveSession(ctx, result, listOut)
	o.logger.Info("crawl stopped on request",
		zap.String("session", o.sessionID),
		zap.Int("pages_fetched", result.PagesFetched))
	return *result, nil
}

type listOutcome struct {
	records []catalog.ProductRecord
}

// runListStage fetches every page not yet satisfied locally, in batches with
// an inter-batch delay. Pages still failing after the batch retry budget are
// recorded incomplete rather than failing the stage.
func (o *Orchestrator) runListStage(ctx context.Context, result *Result) (listOutcome, error) {
	var out listOutcome

	totalPages, err := o.fetcher.TotalPages(ctx, true)
	if err != nil {
		return out, fmt.Errorf("determine total pages: %w", err)
	}
	result.TotalPages = totalPages
	if err := o.store.SetMeta(ctx, catalog.MetaTotalPages, strconv.Itoa(totalPages)); err != nil {
		return out, fmt.Errorf("persist total pages: %w", err)
	}

	pending, err := o.pendingPages(ctx, totalPages)
	if err != nil {
		return out, fmt.Errorf("determine pending pages: %w", err)
	}
	o.tracker.StartStage(progress.StageListCollection, len(pending))
	o.logger.Info("list collection starting",
		zap.String("session", o.sessionID),
		zap.Int("total_pages", totalPages),
		zap.Int("pending_pages", len(pending)))

	var (
		mu         sync.Mutex
		incomplete []int
	)
	markIncomplete := func(pageID int) {
		mu.Lock()
		incomplete = append(incomplete, pageID)
		mu.Unlock()
	}

	for start := 0; start < len(pending); start += o.cfg.BatchSize {
		if o.stopRequested(ctx) {
			break
		}
		if start > 0 && o.cfg.BatchDelay > 0 {
			if err := sleepCtx(ctx, o.cfg.BatchDelay); err != nil {
				break
			}
		}

		end := start + o.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		remaining := pending[start:end]

		retryErr := retry.Do(ctx, func(ctx context.Context) error {
			failed := o.runPageBatch(ctx, remaining, &out, markIncomplete)
			remaining = failed
			if len(failed) > 0 {
				return fmt.Errorf("%d pages still failing in batch", len(failed))
			}
			return nil
		}, retry.Options{
			MaxRetries: o.cfg.BatchRetries,
			BaseDelay:  o.cfg.RetryBase,
			MaxDelay:   o.cfg.RetryMax,
			ShouldAbort: func(int, error) bool {
				return o.stopRequested(ctx)
			},
			OnRetry: func(attempt int, delay time.Duration, err error) {
				o.logger.Warn("retrying batch",
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay),
					zap.Error(err))
			},
		})
		if retryErr != nil && !o.stopRequested(ctx) {
			for _, pageID := range remaining {
				markIncomplete(pageID)
				o.tracker.ItemDone(progress.ItemOutcome{Failed: true})
			}
		}
	}

	sort.Ints(incomplete)
	result.PagesIncomplete = dedupInts(incomplete)
	return out, nil
}

// pageOutcome is the per-slot value produced by list-stage workers.
type pageOutcome struct {
	pageID  int
	fetched bool
}

// runPageBatch drives one batch through the scheduler and returns the page
// ids that errored, for the batch-level retry to re-drive. Progress counts
// each page once, at its terminal resolution: success here, or failure in
// the caller once the batch retries are spent.
func (o *Orchestrator) runPageBatch(ctx context.Context, pageIDs []int, out *listOutcome, markIncomplete func(int)) []int {
	var mu sync.Mutex

	results := pool.Run(ctx, o.sched, pageIDs, func(ctx context.Context, _ int, pageID int) (pageOutcome, error) {
		task := catalog.NewTask(pageID, catalog.TaskPage, "")
		task.Transition(catalog.TaskRunning)

		records, incomplete, err := o.collectPage(ctx, pageID)
		if err != nil {
			task.Transition(catalog.TaskFailed)
			return pageOutcome{pageID: pageID}, err
		}
		task.Transition(catalog.TaskSuccess)
		if incomplete {
			markIncomplete(pageID)
		}
		mu.Lock()
		out.records = append(out.records, records...)
		mu.Unlock()
		o.tracker.ItemDone(progress.ItemOutcome{})
		return pageOutcome{pageID: pageID, fetched: true}, nil
	})

	var failed []int
	fetched := 0
	for i, res := range results {
		if res.Done && res.Err == nil {
			fetched++
			continue
		}
		failed = append(failed, pageIDs[i])
	}
	o.addFetched(fetched)
	return failed
}

func (o *Orchestrator) addFetched(n int) {
	o.mu.Lock()
	o.fetchedPages += n
	o.mu.Unlock()
}

// collectPage fetches one page with the per-page retry budget, validates it,
// and persists its records. The incomplete flag marks pages whose index set
// falls short after retries; that is data for gap detection, not an error.
func (o *Orchestrator) collectPage(ctx context.Context, pageID int) ([]catalog.ProductRecord, bool, error) {
	var page catalog.PageResult
	err := retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = o.fetcher.FetchPage(ctx, pageID)
		return fetchErr
	}, retry.Options{
		MaxRetries: o.cfg.PageRetries,
		BaseDelay:  o.cfg.RetryBase,
		MaxDelay:   o.cfg.RetryMax,
		ShouldAbort: func(_ int, err error) bool {
			return !catalog.IsRetryableFetch(err)
		},
	})
	if err != nil {
		return nil, false, err
	}

	valid, invalid := catalog.PartitionRecords(page.Records)
	if len(invalid) > 0 {
		o.logger.Warn("dropping malformed records",
			zap.Int("page", pageID),
			zap.Int("count", len(invalid)))
	}
	records := recordsFromRaw(page, valid)

	validation := catalog.ValidatePage(pageID, records, page.IsLastPage, o.cfg.ProductsPerPage, 0)
	if page.IsLastPage && validation.Complete {
		_ = o.store.SetMeta(ctx, catalog.MetaLastPageCount, strconv.Itoa(len(records)))
	}

	for _, record := range records {
		if err := o.store.UpsertProduct(ctx, record); err != nil {
			return nil, false, fmt.Errorf("persist page %d: %w", pageID, err)
		}
	}

	if o.archiver != nil && o.cfg.ArchivePages && page.HTML != "" {
		if _, err := o.archiver.ArchivePage(ctx, o.sessionID, pageID, page.HTML); err != nil {
			o.logger.Warn("page snapshot failed", zap.Int("page", pageID), zap.Error(err))
		}
	}
	return records, !validation.Complete, nil
}

// runDetailStage fetches extended attributes for every product URL missing a
// detail row. Each item persists independently; failures accumulate instead
// of aborting the stage.
func (o *Orchestrator) runDetailStage(ctx context.Context, result *Result) error {
	urls, err := o.store.URLsWithoutDetails(ctx)
	if err != nil {
		return fmt.Errorf("list products missing details: %w", err)
	}
	o.tracker.StartStage(progress.StageDetailCollection, len(urls))
	o.logger.Info("detail collection starting",
		zap.String("session", o.sessionID),
		zap.Int("products", len(urls)))

	type detailOutcome struct {
		isNew bool
	}
	results := pool.Run(ctx, o.sched, urls, func(ctx context.Context, _ int, url string) (detailOutcome, error) {
		task := catalog.NewTask(0, catalog.TaskProductDetail, url)
		task.Transition(catalog.TaskRunning)

		var detail catalog.ProductDetail
		err := retry.Do(ctx, func(ctx context.Context) error {
			var fetchErr error
			detail, fetchErr = o.fetcher.FetchDetail(ctx, url)
			return fetchErr
		}, retry.Options{
			MaxRetries: o.cfg.PageRetries,
			BaseDelay:  o.cfg.RetryBase,
			MaxDelay:   o.cfg.RetryMax,
			ShouldAbort: func(_ int, err error) bool {
				return !catalog.IsRetryableFetch(err)
			},
		})
		if err != nil {
			task.Transition(catalog.TaskFailed)
			o.tracker.ItemDone(progress.ItemOutcome{Failed: true})
			return detailOutcome{}, err
		}

		// URLsWithoutDetails drives this stage, so isNew is the normal
		// outcome; updated covers only details that landed between the
		// selection and this check. Existing details are not refetched
		// for staleness here.
		isNew := false
		if _, getErr := o.store.GetDetail(ctx, url); errors.Is(getErr, catalog.ErrNotFound) {
			isNew = true
		}
		if err := o.store.UpsertDetail(ctx, detail); err != nil {
			task.Transition(catalog.TaskFailed)
			o.tracker.ItemDone(progress.ItemOutcome{Failed: true})
			return detailOutcome{}, fmt.Errorf("persist detail %s: %w", url, err)
		}
		task.Transition(catalog.TaskSuccess)
		o.tracker.ItemDone(progress.ItemOutcome{New: isNew, Updated: !isNew})
		return detailOutcome{isNew: isNew}, nil
	})

	for i, res := range results {
		switch {
		case res.Done && res.Err == nil:
			if res.Value.isNew {
				result.ProductsNew++
			} else {
				result.ProductsUpdated++
			}
		case res.Err != nil:
			result.DetailFailures = append(result.DetailFailures,
				fmt.Sprintf("%s: %v", urls[i], res.Err))
		}
	}
	return nil
}

// pendingPages lists the page ids whose persisted record counts fall short
// of expectation. The last page passes with any non-zero count unless its
// exact size is known from a previous run.
func (o *Orchestrator) pendingPages(ctx context.Context, totalPages int) ([]int, error) {
	counts, err := o.store.PageIndices(ctx, 0, totalPages-1)
	if err != nil {
		return nil, err
	}
	lastExpected := 0
	if raw, err := o.store.GetMeta(ctx, catalog.MetaLastPageCount); err == nil {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			lastExpected = n
		}
	}

	var pending []int
	for pageID := 0; pageID < totalPages; pageID++ {
		have := len(counts[pageID])
		want := o.cfg.ProductsPerPage
		if pageID == totalPages-1 {
			if lastExpected > 0 {
				want = lastExpected
			} else if have > 0 {
				continue
			} else {
				want = 1
			}
		}
		if have < want {
			pending = append(pending, pageID)
		}
	}
	return pending, nil
}

// archiveSession stores the session document when an archiver is present.
func (o *Orchestrator) archiveSession(ctx context.Context, result *Result, out listOutcome) {
	if o.archiver == nil {
		return
	}
	uri, err := o.archiver.Archive(ctx, snapshot.Document{
		SessionID:  o.sessionID,
		TotalPages: result.TotalPages,
		Partial:    result.Partial,
		Products:   out.records,
	})
	if err != nil {
		o.logger.Warn("session snapshot failed", zap.Error(err))
		return
	}
	result.SnapshotURI = uri
}

func (o *Orchestrator) fetchedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fetchedPages
}

// recordsFromRaw assigns (pageID, slot) coordinates preserving the on-page
// order of valid records.
func recordsFromRaw(page catalog.PageResult, valid []catalog.RawProduct) []catalog.ProductRecord {
	index := make(map[string]int, len(page.Records))
	for i, raw := range page.Records {
		if _, seen := index[raw.URL]; !seen {
			index[raw.URL] = i
		}
	}
	records := make([]catalog.ProductRecord, 0, len(valid))
	for _, raw := range valid {
		records = append(records, catalog.ProductRecord{
			URL:           raw.URL,
			Manufacturer:  raw.Manufacturer,
			Model:         raw.Model,
			CertificateID: raw.CertificateID,
			PageID:        page.PageID,
			IndexInPage:   index[raw.URL],
		})
	}
	return records
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return nil
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
