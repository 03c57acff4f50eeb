package generation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"karto-backend/metrics"
	"karto-backend/quota"
)

var (
	ErrQuotaExhausted      = errors.New("session visual quota exhausted")
	ErrProviderUnavailable = errors.New("image provider unavailable")
)

// ProviderBatchCap bounds concurrent calls per batch regardless of quota.
const ProviderBatchCap = 4

const defaultCallTimeout = 100 * time.Second

// ImageGenerator matches the minimal interface implemented by openai.Client.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// SessionCounter matches quota.SessionRepository.
type SessionCounter interface {
	Get(sessionID string) (quota.SessionQuota, error)
	Increment(sessionID string, n int) (quota.SessionQuota, error)
}

type Orchestrator struct {
	gen         ImageGenerator
	sessions    SessionCounter
	callTimeout time.Duration
	batchCap    int
}

func NewOrchestrator(gen ImageGenerator, sessions SessionCounter) *Orchestrator {
	return &Orchestrator{
		gen:         gen,
		sessions:    sessions,
		callTimeout: defaultCallTimeout,
		batchCap:    ProviderBatchCap,
	}
}

type BatchResult struct {
	ImageURLs []string
	Quota     quota.SessionQuota
}

// GenerateBatch runs up to count generations for a session, bounded by the
// provider cap, the available concepts and the remaining session quota. The
// bound is computed before any call, so a batch never over-commits work the
// user is not entitled to. Failures within the wave are retried exactly once,
// concurrently, and the session counter is debited by the number of
// successes only.
func (o *Orchestrator) GenerateBatch(ctx context.Context, sessionID string, concepts []string, count int) (*BatchResult, error) {
	q, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	remaining := q.Remaining()
	if remaining <= 0 {
		return nil, ErrQuotaExhausted
	}

	toGenerate := count
	if toGenerate > o.batchCap {
		toGenerate = o.batchCap
	}
	if toGenerate > len(concepts) {
		toGenerate = len(concepts)
	}
	if toGenerate > remaining {
		toGenerate = remaining
	}
	if toGenerate <= 0 {
		return nil, ErrQuotaExhausted
	}

	results := make([]string, toGenerate)
	o.runWave(ctx, concepts, allIndexes(toGenerate), results)

	var failed []int
	for i, url := range results {
		if url == "" {
			failed = append(failed, i)
		}
	}
	if len(failed) > 0 {
		log.Printf("[batch][retry] session_id=%s failed=%d of %d", sessionID, len(failed), toGenerate)
		o.runWave(ctx, concepts, failed, results)
	}

	urls := make([]string, 0, toGenerate)
	for _, url := range results {
		if url != "" {
			urls = append(urls, url)
		}
	}
	if len(urls) == 0 {
		return nil, ErrProviderUnavailable
	}

	after, err := o.sessions.Increment(sessionID, len(urls))
	if err != nil {
		// Images exist but the debit failed; favor the user and return them.
		log.Printf("[batch][debit_failed] session_id=%s successes=%d err=%v", sessionID, len(urls), err)
		after = q
	}
	log.Printf("[batch][done] session_id=%s attempted=%d successes=%d used=%d", sessionID, toGenerate, len(urls), after.Used)
	return &BatchResult{ImageURLs: urls, Quota: after}, nil
}

// runWave renders every target index concurrently, each call under its own
// timeout, writing successes into results. A failed call leaves its slot
// empty rather than aborting the wave.
func (o *Orchestrator) runWave(ctx context.Context, concepts []string, targets []int, results []string) {
	var wg sync.WaitGroup
	for _, i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
			defer cancel()
			url, err := o.gen.GenerateImage(callCtx, concepts[i])
			if err != nil {
				metrics.GenerationsTotal.WithLabelValues("error").Inc()
				log.Printf("[batch][call_failed] concept=%d err=%v", i, err)
				return
			}
			metrics.GenerationsTotal.WithLabelValues("ok").Inc()
			results[i] = url
		}(i)
	}
	wg.Wait()
}

func allIndexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
