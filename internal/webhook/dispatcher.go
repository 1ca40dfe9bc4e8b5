package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"agenthub/internal/httpclient"
)

// Config controls delivery retries and backpressure.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	QueueSize   int
	EnqueueWait time.Duration

	// OnAttempt observes every POST, OnDropped every job lost to a full
	// queue, OnFailed every job abandoned after exhausting its attempts.
	OnAttempt func(subscriptionID string, attempt int, success bool)
	OnDropped func(subscriptionID string)
	OnFailed  func(subscriptionID string)
}

// DefaultConfig returns the stock delivery settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  30 * time.Second,
		QueueSize:   64,
		EnqueueWait: 50 * time.Millisecond,
	}
}

type job struct {
	sub  Subscription
	body []byte
}

// Dispatcher owns one worker goroutine and one bounded queue per
// subscription. Enqueueing on a full queue blocks briefly, then drops.
type Dispatcher struct {
	client *http.Client
	cfg    Config
	subs   []Subscription
	queues map[string]chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the configured subscriptions. A nil
// client falls back to the short-deadline control-plane client.
func NewDispatcher(subs []Subscription, client *http.Client, cfg Config) *Dispatcher {
	if client == nil {
		client = httpclient.NewShortHTTPClient()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = def.EnqueueWait
	}
	return &Dispatcher{
		client: client,
		cfg:    cfg,
		subs:   subs,
		queues: make(map[string]chan job, len(subs)),
	}
}

// Start launches one delivery worker per subscription.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.cancel != nil {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	for _, sub := range d.subs {
		queue := make(chan job, d.cfg.QueueSize)
		d.queues[sub.ID] = queue
		d.wg.Add(1)
		go d.worker(queue)
	}
	if len(d.subs) > 0 {
		slog.Info("Webhook dispatcher started",
			"subscriptions", len(d.subs),
			"max_attempts", d.cfg.MaxAttempts,
		)
	}
}

// Stop aborts in-flight deliveries and waits for the workers to exit. Queued
// jobs are discarded.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
	slog.Info("Webhook dispatcher stopped")
}

// Dispatch serializes the event once and enqueues it for every matching
// subscription. It never blocks longer than the enqueue wait per
// subscription.
func (d *Dispatcher) Dispatch(event Event) {
	if len(d.subs) == 0 {
		return
	}
	body, err := Canonicalize(event)
	if err != nil {
		slog.Error("Failed to serialize webhook event", "event", event.Type, "error", err)
		return
	}

	for _, sub := range d.subs {
		if !sub.matches(event.Type) {
			continue
		}
		queue, ok := d.queues[sub.ID]
		if !ok {
			continue
		}
		select {
		case queue <- job{sub: sub, body: body}:
		case <-time.After(d.cfg.EnqueueWait):
			slog.Warn("Webhook queue full, dropping event",
				"subscription_id", sub.ID,
				"event", event.Type,
			)
			if d.cfg.OnDropped != nil {
				d.cfg.OnDropped(sub.ID)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker(queue chan job) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case j := <-queue:
			d.deliver(j)
		}
	}
}

// deliver POSTs the job with exponential backoff between attempts. The
// signature is recomputed per attempt over the identical stored body bytes.
func (d *Dispatcher) deliver(j job) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BackoffBase
	bo.MaxInterval = d.cfg.BackoffCap
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := d.post(j)
		if d.cfg.OnAttempt != nil {
			d.cfg.OnAttempt(j.sub.ID, attempt, err == nil)
		}
		if err == nil {
			return nil
		}
		if !retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.MaxAttempts-1)), d.ctx))
	if err != nil {
		slog.Error("Webhook delivery failed permanently",
			"subscription_id", j.sub.ID,
			"attempts", attempt,
			"error", err,
		)
		if d.cfg.OnFailed != nil {
			d.cfg.OnFailed(j.sub.ID)
		}
		return
	}
	slog.Debug("Webhook delivered",
		"subscription_id", j.sub.ID,
		"attempts", attempt,
	)
}

func (d *Dispatcher) post(j job) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, j.sub.URL, bytes.NewReader(j.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(j.sub.Secret, j.body))
	req.Header.Set("X-Webhook-Id", j.sub.ID)
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
