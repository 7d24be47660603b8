// Package delivery drives push sends for batches of subscriptions: encrypt,
// authenticate, transmit, classify the relay's answer, and update
// subscription health in the store.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/relwatch/webpush"
	"github.com/relwatch/webpush/storage"
)

const (
	defaultWorkerLimit    = 8
	defaultRequestTimeout = 30 * time.Second
)

// Orchestrator runs one send attempt per eligible subscription. The caller
// schedules batches; at most one attempt per subscription is in flight per
// batch, which is what lets the store mutations stay lock-free.
type Orchestrator struct {
	client  *webpush.Client
	store   storage.Store
	opts    webpush.Options
	workers int
	limiter *rate.Limiter
	timeout time.Duration
}

// New creates an Orchestrator sending through client and recording outcomes
// in store.
func New(client *webpush.Client, store storage.Store) *Orchestrator {
	return &Orchestrator{
		client:  client,
		store:   store,
		workers: defaultWorkerLimit,
		timeout: defaultRequestTimeout,
	}
}

// WithSendOptions sets the TTL/Urgency/Topic metadata for every send.
func (o *Orchestrator) WithSendOptions(opts webpush.Options) *Orchestrator {
	o.opts = opts
	return o
}

// WithWorkerLimit bounds how many sends run concurrently.
func (o *Orchestrator) WithWorkerLimit(n int) *Orchestrator {
	if n > 0 {
		o.workers = n
	}
	return o
}

// WithRateLimit caps outbound requests per second against the relay.
// Zero or negative disables the limiter.
func (o *Orchestrator) WithRateLimit(perSecond float64) *Orchestrator {
	if perSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	} else {
		o.limiter = nil
	}
	return o
}

// WithRequestTimeout sets the per-request ceiling after which an in-flight
// send is classified as a transient failure.
func (o *Orchestrator) WithRequestTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.timeout = d
	}
	return o
}

// SendBatch delivers payload to every sendable subscription matching toolIDs
// and returns the aggregated report. Individual failures are classified and
// recorded, never propagated; the returned error covers only the eligibility
// query itself.
func (o *Orchestrator) SendBatch(ctx context.Context, payload []byte, toolIDs []string) (*Report, error) {
	log := clog.FromContext(ctx)

	recs, err := o.store.ListSendable(ctx, toolIDs)
	if err != nil {
		return nil, fmt.Errorf("listing sendable subscriptions: %w", err)
	}

	results := make([]Result, len(recs))
	g := new(errgroup.Group)
	g.SetLimit(o.workers)
	for i, rec := range recs {
		g.Go(func() error {
			if o.limiter != nil {
				if err := o.limiter.Wait(ctx); err != nil {
					results[i] = Result{
						SubscriptionID: rec.ID,
						Endpoint:       rec.Subscription.Endpoint,
						Outcome:        Transient,
						Err:            err,
					}
					return nil
				}
			}
			results[i] = o.sendOne(ctx, rec, payload)
			return nil
		})
	}
	g.Wait()

	report := &Report{Results: results}
	report.tally()
	log.Info("push batch finished",
		"eligible", len(recs),
		"delivered", report.Delivered,
		"expired", report.Expired,
		"failed", report.Failed)
	return report, nil
}

// sendOne attempts delivery to a single subscription and applies the
// matching store mutation for the outcome.
func (o *Orchestrator) sendOne(ctx context.Context, rec *storage.Record, payload []byte) Result {
	log := clog.FromContext(ctx)
	res := Result{SubscriptionID: rec.ID, Endpoint: rec.Subscription.Endpoint}

	sendCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	err := o.client.Send(sendCtx, rec.Subscription, payload, &o.opts)
	if err == nil {
		res.Outcome = Delivered
		if rerr := o.store.ResetFailure(ctx, rec.ID); rerr != nil && !errors.Is(rerr, storage.ErrNotFound) {
			log.Warn("resetting failure counter", "id", rec.ID, "err", rerr)
		}
		return res
	}

	res.Err = err
	var se *webpush.StatusError
	if errors.As(err, &se) {
		res.StatusCode = se.Code
		if se.Code == http.StatusNotFound || se.Code == http.StatusGone {
			// The relay has declared the registration dead; the failure
			// counter is moot.
			res.Outcome = Expired
			if derr := o.store.DeleteByEndpoint(ctx, rec.Subscription.Endpoint); derr != nil {
				log.Warn("deleting expired subscription", "id", rec.ID, "err", derr)
			} else {
				log.Info("deleted expired subscription", "id", rec.ID, "status", se.Code)
			}
			return res
		}
	}

	res.Outcome = Transient
	if ierr := o.store.IncrementFailure(ctx, rec.ID); ierr != nil && !errors.Is(ierr, storage.ErrNotFound) {
		log.Warn("incrementing failure counter", "id", rec.ID, "err", ierr)
	}
	log.Warn("push delivery failed", "id", rec.ID, "status", res.StatusCode, "err", err)
	return res
}
