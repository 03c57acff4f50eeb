package generation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"karto-backend/quota"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator fails calls for prompts listed in failures; permanent entries
// fail every attempt, others only the first.
type fakeGenerator struct {
	mu        sync.Mutex
	attempts  map[string]int
	failOnce  map[string]bool
	permanent map[string]bool
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		attempts:  map[string]int{},
		failOnce:  map[string]bool{},
		permanent: map[string]bool{},
	}
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[prompt]++
	if f.permanent[prompt] {
		return "", errors.New("provider error")
	}
	if f.failOnce[prompt] && f.attempts[prompt] == 1 {
		return "", errors.New("provider error")
	}
	return "https://img.example/" + prompt, nil
}

func (f *fakeGenerator) totalAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.attempts {
		n += c
	}
	return n
}

type fakeSessions struct {
	mu    sync.Mutex
	state map[string]quota.SessionQuota
}

func newFakeSessions() *fakeSessions { return &fakeSessions{state: map[string]quota.SessionQuota{}} }

func (f *fakeSessions) Get(sessionID string) (quota.SessionQuota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.state[sessionID]
	if !ok {
		q = quota.SessionQuota{SessionID: sessionID, Used: 0, Limit: quota.DefaultGenerationLimit}
		f.state[sessionID] = q
	}
	return q, nil
}

func (f *fakeSessions) Increment(sessionID string, n int) (quota.SessionQuota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.state[sessionID]
	q.SessionID = sessionID
	if q.Limit == 0 {
		q.Limit = quota.DefaultGenerationLimit
	}
	q.Used += n
	if q.Used > q.Limit {
		q.Used = q.Limit
	}
	f.state[sessionID] = q
	return q, nil
}

func (f *fakeSessions) set(sessionID string, used, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[sessionID] = quota.SessionQuota{SessionID: sessionID, Used: used, Limit: limit}
}

func TestGenerateBatch_QuotaBounded(t *testing.T) {
	gen := newFakeGenerator()
	sessions := newFakeSessions()
	sessions.set("s1", 10, 12)
	orch := NewOrchestrator(gen, sessions)

	res, err := orch.GenerateBatch(context.Background(), "s1", []string{"a", "b", "c", "d"}, 4)
	require.NoError(t, err)
	assert.Len(t, res.ImageURLs, 2, "only the remaining 2 slots may be attempted")
	assert.Equal(t, 2, gen.totalAttempts())
	assert.Equal(t, 12, res.Quota.Used)
	assert.Equal(t, 0, res.Quota.Remaining())
}

func TestGenerateBatch_ProviderCapBounds(t *testing.T) {
	gen := newFakeGenerator()
	sessions := newFakeSessions()
	orch := NewOrchestrator(gen, sessions)

	concepts := []string{"a", "b", "c", "d", "e", "f"}
	res, err := orch.GenerateBatch(context.Background(), "s2", concepts, 6)
	require.NoError(t, err)
	assert.Len(t, res.ImageURLs, ProviderBatchCap)
	assert.Equal(t, ProviderBatchCap, gen.totalAttempts())
}

func TestGenerateBatch_DebitAfterSuccess(t *testing.T) {
	gen := newFakeGenerator()
	gen.permanent["c"] = true
	sessions := newFakeSessions()
	orch := NewOrchestrator(gen, sessions)

	res, err := orch.GenerateBatch(context.Background(), "s3", []string{"a", "b", "c"}, 3)
	require.NoError(t, err)
	assert.Len(t, res.ImageURLs, 2)
	assert.Equal(t, 2, res.Quota.Used, "failed attempts never cost quota")
	// The permanent failure got its single retry and no more.
	assert.Equal(t, 2, gen.attempts["c"])
}

func TestGenerateBatch_RetryRecoversTransientFailure(t *testing.T) {
	gen := newFakeGenerator()
	gen.failOnce["b"] = true
	sessions := newFakeSessions()
	orch := NewOrchestrator(gen, sessions)

	res, err := orch.GenerateBatch(context.Background(), "s4", []string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Len(t, res.ImageURLs, 2)
	assert.Equal(t, 2, res.Quota.Used)
	assert.Equal(t, 2, gen.attempts["b"])
	assert.Equal(t, 1, gen.attempts["a"], "successful calls are not retried")
}

func TestGenerateBatch_AllFailuresIsServiceUnavailable(t *testing.T) {
	gen := newFakeGenerator()
	gen.permanent["a"] = true
	gen.permanent["b"] = true
	sessions := newFakeSessions()
	orch := NewOrchestrator(gen, sessions)

	_, err := orch.GenerateBatch(context.Background(), "s5", []string{"a", "b"}, 2)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	q, _ := sessions.Get("s5")
	assert.Equal(t, 0, q.Used, "quota untouched when nothing was produced")
}

func TestGenerateBatch_ExhaustedFailsFast(t *testing.T) {
	gen := newFakeGenerator()
	sessions := newFakeSessions()
	sessions.set("s6", 12, 12)
	orch := NewOrchestrator(gen, sessions)

	_, err := orch.GenerateBatch(context.Background(), "s6", []string{"a"}, 1)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 0, gen.totalAttempts())
}
