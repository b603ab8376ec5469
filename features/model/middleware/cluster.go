package middleware

import (
	"context"
	"strconv"
	"time"

	"goa.design/pulse/rmap"
)

type (
	// clusterMap is the subset of rmap.Map used to share a budget.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	rmapClusterMap struct {
		m *rmap.Map
	}
)

// clusterUpdateAttempts bounds compare-and-swap retries when several
// processes adjust the shared budget concurrently.
const clusterUpdateAttempts = 3

func (m rmapClusterMap) Get(key string) (string, bool) {
	return m.m.Get(key)
}

func (m rmapClusterMap) Subscribe() <-chan rmap.EventKind {
	return m.m.Subscribe()
}

func (m rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}

func (m rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}

// newClusterRateLimiter builds a limiter whose budget lives in m under
// opts.Key. Local backoffs and probes are pushed to the map and changes made
// by other processes are applied locally. Without a map or key, or when the
// shared entry cannot be seeded, the limiter is process-local.
func newClusterRateLimiter(ctx context.Context, m clusterMap, opts RateLimitOptions) *AdaptiveRateLimiter {
	if m == nil || opts.Key == "" {
		return newLocalRateLimiter(opts)
	}
	local := newLocalRateLimiter(opts)
	key := opts.Key

	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, formatTPM(local.currentTPM)); err != nil {
			local.logger.Warn(ctx, "shared rate limit unavailable, using local budget", "key", key, "err", err)
			return local
		}
	}
	if v, ok := parseTPM(m, key); ok {
		local.replaceTPM(v)
	}

	floor, ceiling, step := local.minTPM, local.maxTPM, local.recoveryRate
	local.mu.Lock()
	local.onBackoff = func(float64) {
		go updateShared(m, key, func(cur float64) float64 { return max(cur*backoffFactor, floor) })
	}
	local.onProbe = func(float64) {
		go updateShared(m, key, func(cur float64) float64 { return min(cur+step, ceiling) })
	}
	local.mu.Unlock()

	ch := m.Subscribe()
	go func() {
		for range ch {
			if v, ok := parseTPM(m, key); ok {
				local.replaceTPM(v)
			}
		}
	}()
	return local
}

// updateShared applies next to the shared budget using compare-and-swap.
// It gives up silently after a few lost races; the subscription keeps the
// local limiter in sync with whichever writer won.
func updateShared(m clusterMap, key string, next func(cur float64) float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for range clusterUpdateAttempts {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		nextStr := formatTPM(next(cur))
		if nextStr == curStr {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, nextStr)
		if err != nil || prev == curStr {
			return
		}
	}
}

func parseTPM(m clusterMap, key string) (float64, bool) {
	s, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatTPM(tpm float64) string {
	return strconv.Itoa(int(tpm))
}
