package analytics

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// pendingTask tracks a scheduled-but-not-yet-started trigger so a later
// trigger of the same kind can cancel it before it starts — "a new trigger
// while one is in flight replaces the pending request (latest-wins — drop
// the older unstarted one, let the in-flight one complete)", §4.5.
type pendingTask struct {
	cancel context.CancelFunc
	inFlight bool
}

// Dispatcher is one per session. It caps concurrent analytics goroutines at
// three in total via golang.org/x/sync/semaphore.Weighted, and posts Result
// values over Results. The cap is shared, not per kind: a trigger that
// arrives while a task of the same kind is in flight starts as soon as the
// semaphore allows, so two tasks of one kind can run at once.
type Dispatcher struct {
	sessionID string
	collab    Collaborator
	cache     *ResultCache
	timeout   time.Duration
	Results   chan Result

	mu      sync.Mutex
	pending map[Kind]*pendingTask
	sem     *semaphore.Weighted
}

// NewDispatcher builds a dispatcher for one session. Results are posted on
// results without blocking (dropped if it is full); the owner relays them
// to the session loop.
func NewDispatcher(sessionID string, collab Collaborator, cache *ResultCache, timeout time.Duration, results chan Result) *Dispatcher {
	return &Dispatcher{
		sessionID: sessionID,
		collab:    collab,
		cache:     cache,
		timeout:   timeout,
		Results:   results,
		pending:   make(map[Kind]*pendingTask),
		sem:       semaphore.NewWeighted(3),
	}
}

// TriggerSentiment schedules (or replaces the not-yet-started) sentiment task.
func (d *Dispatcher) TriggerSentiment(latestSentence string, recent []Entry) {
	d.schedule(KindSentiment, func(ctx context.Context) {
		result, err := d.collab.Sentiment(ctx, latestSentence, recent)
		d.post(KindSentiment, &result, nil, err)
	})
}

// TriggerConversationAnalysis schedules (or replaces) the analysis task.
func (d *Dispatcher) TriggerConversationAnalysis(full []Entry) {
	d.schedule(KindAnalysis, func(ctx context.Context) {
		result, err := d.collab.AnalyzeConversation(ctx, full)
		if err == nil {
			_ = d.cache.Put(ctx, d.sessionID, KindAnalysis, result)
		}
		d.postAnalysis(&result, err)
	})
}

// TriggerCoaching schedules (or replaces) the coaching task.
func (d *Dispatcher) TriggerCoaching(recent []Entry, triggerSentence string) {
	d.schedule(KindCoaching, func(ctx context.Context) {
		result, err := d.collab.GetSupervisorCoaching(ctx, recent, triggerSentence)
		if err == nil {
			_ = d.cache.Put(ctx, d.sessionID, KindCoaching, result)
		}
		d.postCoaching(&result, err)
	})
}

// schedule cancels any not-yet-started task of the same kind, then launches
// fn in a new goroutine gated by the semaphore and Δ_analytics timeout.
func (d *Dispatcher) schedule(kind Kind, fn func(ctx context.Context)) {
	d.mu.Lock()
	if existing, ok := d.pending[kind]; ok && !existing.inFlight {
		existing.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	task := &pendingTask{cancel: cancel}
	d.pending[kind] = task
	d.mu.Unlock()

	go func() {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			cancel()
			return
		}
		defer d.sem.Release(1)

		d.mu.Lock()
		if d.pending[kind] == task {
			task.inFlight = true
		} else {
			d.mu.Unlock()
			cancel()
			return
		}
		d.mu.Unlock()

		fn(ctx)
		cancel()

		d.mu.Lock()
		if d.pending[kind] == task {
			delete(d.pending, kind)
		}
		d.mu.Unlock()
	}()
}

func (d *Dispatcher) post(kind Kind, sentiment *SentimentResult, analysis *AnalysisResult, err error) {
	if err != nil {
		log.Printf("[analytics] session %s kind %s failed: %v", d.sessionID, kind, err)
	}
	select {
	case d.Results <- Result{SessionID: d.sessionID, Kind: kind, Sentiment: sentiment, Analysis: analysis, Err: err}:
	default:
		log.Printf("[analytics] session %s kind %s: result dropped, loop not draining", d.sessionID, kind)
	}
}

func (d *Dispatcher) postAnalysis(result *AnalysisResult, err error) {
	if err != nil {
		log.Printf("[analytics] session %s analysis failed: %v", d.sessionID, err)
	}
	select {
	case d.Results <- Result{SessionID: d.sessionID, Kind: KindAnalysis, Analysis: result, Err: err}:
	default:
		log.Printf("[analytics] session %s analysis result dropped, loop not draining", d.sessionID)
	}
}

func (d *Dispatcher) postCoaching(result *CoachingResult, err error) {
	if err != nil {
		log.Printf("[analytics] session %s coaching failed: %v", d.sessionID, err)
	}
	select {
	case d.Results <- Result{SessionID: d.sessionID, Kind: KindCoaching, Coaching: result, Err: err}:
	default:
		log.Printf("[analytics] session %s coaching result dropped, loop not draining", d.sessionID)
	}
}
