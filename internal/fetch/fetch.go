// Package fetch is the Fetch Coordinator: it runs every
// configured adapter concurrently, under a shared worker pool, a
// per-adapter timeout, and a bounded retry budget with exponential
// backoff, and folds the results into one flat item list plus a list of
// advisory per-adapter failures.
package fetch

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"newsdigest/internal/adapters"
	"newsdigest/internal/apperror"
)

// Config carries this component's tunables.
type Config struct {
	Concurrency int           // g_fetch, default 8
	Timeout     time.Duration // t_fetch, default 120s
	MaxRetries  int           // r_fetch, default 3
	BaseBackoff time.Duration // default 1s
}

// AdapterFailure records one adapter's terminal failure for a run. Fetch
// failures are advisory: the coordinator always returns whatever other
// adapters produced.
type AdapterFailure struct {
	Adapter string
	Err     error
}

// Result is the coordinator's output for one fetch pass.
type Result struct {
	Items    []adapters.Item
	Failures []AdapterFailure
	Retries  int // total retry attempts spent across every adapter
}

// Coordinator runs a fixed set of Adapters under a shared concurrency
// budget.
type Coordinator struct {
	adapters []adapters.Adapter
	cfg      Config
	logger   *slog.Logger
}

func New(adapterList []adapters.Adapter, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{adapters: adapterList, cfg: cfg, logger: logger}
}

type adapterOutcome struct {
	name    string
	items   []adapters.Item
	retries int
	err     error
}

// Run fetches every adapter's items in the [since, now] window. A single
// adapter's exhausted retry budget never fails the pass as a whole — it is
// recorded in Result.Failures and the coordinator moves on.
func (c *Coordinator) Run(ctx context.Context, since, now time.Time) (Result, error) {
	sem := make(chan struct{}, c.cfg.Concurrency)
	outcomes := make(chan adapterOutcome, len(c.adapters))

	for _, a := range c.adapters {
		a := a
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return Result{}, &apperror.Cancelled{Stage: "scrape"}
		}
		go func() {
			defer func() { <-sem }()
			items, retries, err := c.fetchWithRetry(ctx, a, since, now)
			outcomes <- adapterOutcome{name: a.Name(), items: items, retries: retries, err: err}
		}()
	}

	var res Result
	for range c.adapters {
		o := <-outcomes
		res.Retries += o.retries
		if o.err != nil {
			c.logger.Warn("adapter fetch failed", "adapter", o.name, "error", o.err)
			res.Failures = append(res.Failures, AdapterFailure{Adapter: o.name, Err: o.err})
			continue
		}
		c.logger.Info("adapter fetch succeeded", "adapter", o.name, "items", len(o.items))
		res.Items = append(res.Items, o.items...)
	}
	return res, nil
}

// fetchWithRetry retries an adapter call up to MaxRetries times on
// retriable FetchErrors, waiting a random duration in
// [0, baseBackoff*2^attempt) (full jitter) between attempts (no ecosystem backoff helper is wired anywhere in this
// module's dependency surface, so this is plain math/rand — see DESIGN.md).
func (c *Coordinator) fetchWithRetry(ctx context.Context, a adapters.Adapter, since, now time.Time) ([]adapters.Item, int, error) {
	var lastErr error
	retries := 0
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		items, err := a.Fetch(callCtx, since, now)
		cancel()
		if err == nil {
			return items, retries, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, retries, ctx.Err()
		}

		fe, ok := err.(*apperror.FetchError)
		if !ok || !fe.Retriable || attempt == c.cfg.MaxRetries {
			return nil, retries, err
		}

		retries++
		wait := fullJitterBackoff(c.cfg.BaseBackoff, attempt)
		c.logger.Warn("retrying adapter fetch", "adapter", a.Name(), "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, retries, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, retries, lastErr
}

func fullJitterBackoff(base time.Duration, attempt int) time.Duration {
	max := base * (1 << uint(attempt))
	if max <= 0 {
		return base
	}
	return time.Duration(rand.Int63n(int64(max)))
}
