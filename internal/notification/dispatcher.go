// Package notification delivers customer-facing messages off the request path.
package notification

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dukapos/dukapos/internal/providers/email"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 256
	maxAttempts      = 3
	baseBackoff      = 500 * time.Millisecond
	deliveryTimeout  = 15 * time.Second
	drainGracePeriod = 10 * time.Second
)

// Job is one outbound message. Delivery is at-most-once after retries: a job
// that exhausts its attempts is dropped and logged, never re-queued.
type Job struct {
	To      string
	Subject string
	Body    string
}

type Dispatcher struct {
	log   *zap.Logger
	email email.Provider
	jobs  chan Job

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewDispatcher(log *zap.Logger, provider email.Provider) *Dispatcher {
	return &Dispatcher{
		log:   log.Named("notification.dispatcher"),
		email: provider,
		jobs:  make(chan Job, defaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Enqueue never blocks the caller. A full queue drops the job.
func (d *Dispatcher) Enqueue(job Job) {
	if job.To == "" {
		return
	}
	select {
	case d.jobs <- job:
	default:
		d.log.Warn("notification queue full, dropping job",
			zap.String("subject", job.Subject),
		)
	}
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		finished := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(drainGracePeriod):
			d.log.Warn("notification dispatcher stopped before draining")
		}
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case job := <-d.jobs:
					d.deliver(job)
				default:
					return
				}
			}
		case job := <-d.jobs:
			d.deliver(job)
		}
	}
}

func (d *Dispatcher) deliver(job Job) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := d.email.Send(ctx, []string{job.To}, job.Subject, job.Body)
		cancel()
		if err == nil {
			return
		}
		d.log.Warn("notification delivery failed",
			zap.String("to", job.To),
			zap.String("subject", job.Subject),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == maxAttempts {
			d.log.Error("notification dropped after retries",
				zap.String("to", job.To),
				zap.String("subject", job.Subject),
			)
			return
		}
		if !d.sleep(backoff(attempt)) {
			return
		}
	}
}

// sleep waits unless the dispatcher is shutting down.
func (d *Dispatcher) sleep(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.done:
		return false
	}
}

// backoff doubles per attempt with up to 50% jitter so a flapping SMTP relay
// does not see retries in lockstep.
func backoff(attempt int) time.Duration {
	delay := baseBackoff << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter
}
