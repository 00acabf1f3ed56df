package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultEffectTimeout = 5 * time.Second

// Effect is a fire-and-forget side effect of a request.
type Effect struct {
	Name string
	Run  func(ctx context.Context) error
}

// EffectOutcome reports how one effect finished.
type EffectOutcome struct {
	Name     string
	Err      error
	Duration time.Duration
}

// EffectObserver receives every EffectOutcome. It is called from the effect goroutine.
type EffectObserver func(ctx context.Context, outcome EffectOutcome)

// EffectRunner runs effects in the background, detached from request cancellation but bounded
// by a timeout. Each effect runs on its own goroutine so one failing never affects another.
type EffectRunner struct {
	timeout  time.Duration
	observer EffectObserver
	wg       sync.WaitGroup
}

// NewEffectRunner constructs an EffectRunner. A non-positive timeout uses five seconds.
func NewEffectRunner(timeout time.Duration, observer EffectObserver) *EffectRunner {
	if timeout <= 0 {
		timeout = defaultEffectTimeout
	}
	if observer == nil {
		observer = func(context.Context, EffectOutcome) {}
	}
	return &EffectRunner{timeout: timeout, observer: observer}
}

// Dispatch starts every effect and returns immediately.
func (r *EffectRunner) Dispatch(ctx context.Context, effects ...Effect) {
	detached := context.WithoutCancel(ctx)
	for _, effect := range effects {
		if effect.Run == nil {
			continue
		}
		r.wg.Add(1)
		go r.run(detached, effect)
	}
}

// Wait blocks until every dispatched effect has finished or ctx is done.
func (r *EffectRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *EffectRunner) run(ctx context.Context, effect Effect) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("effect %s panicked: %v", effect.Name, rec)
			}
		}()
		return effect.Run(ctx)
	}()
	r.observer(ctx, EffectOutcome{Name: effect.Name, Err: err, Duration: time.Since(started)})
}

// effectMetrics counts referral effect outcomes.
type effectMetrics interface {
	ReferralEffect(ctx context.Context, effect string, err error)
}

// NewEffectLogObserver logs each outcome through logger and ticks metrics when provided.
func NewEffectLogObserver(logger func(ctx context.Context, event string, fields map[string]any), metrics effectMetrics) EffectObserver {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return func(ctx context.Context, outcome EffectOutcome) {
		fields := map[string]any{
			"effect":     outcome.Name,
			"durationMs": outcome.Duration.Milliseconds(),
		}
		event := "referral.effect_completed"
		if outcome.Err != nil {
			event = "referral.effect_failed"
			fields["error"] = outcome.Err.Error()
		}
		logger(ctx, event, fields)
		if metrics != nil {
			metrics.ReferralEffect(ctx, outcome.Name, outcome.Err)
		}
	}
}
