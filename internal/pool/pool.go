package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/metrics"
)

// Processor handles one queued submission. It reports duplicates separately
// from failures so duplicates can be acked.
type Processor interface {
	Execute(ctx context.Context, sub *domain.Submission) (bool, error)
}

// WorkerPool manages a fixed-size pool of goroutines that judge submissions.
type WorkerPool struct {
	size   int
	subs   <-chan *domain.SubmissionMessage
	proc   Processor
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool.
func NewWorkerPool(size int, subs <-chan *domain.SubmissionMessage, proc Processor, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:   size,
		subs:   subs,
		proc:   proc,
		logger: logger,
	}
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current submissions and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case msg, ok := <-p.subs:
			if !ok {
				p.logger.Debug("Submission channel closed", zap.Int("worker_id", id))
				return
			}
			p.handle(ctx, id, msg)
		}
	}
}

func (p *WorkerPool) handle(ctx context.Context, workerID int, msg *domain.SubmissionMessage) {
	sub := msg.Submission
	log := p.logger.With(zap.Int("worker_id", workerID), zap.String("submission_id", sub.ID.String()))

	log.Info("Worker processing submission", zap.String("language", sub.Language))

	metrics.WorkersActive.Inc()
	isDuplicate, err := p.execute(ctx, sub)
	metrics.WorkersActive.Dec()

	switch {
	case err != nil:
		log.Error("Submission processing failed", zap.Error(err))
		// Nack without requeue: failed submissions go to the DLQ.
		// Requeuing a deterministic failure would loop forever.
		if nackErr := msg.Nack(false); nackErr != nil {
			log.Error("Failed to NACK message", zap.Error(nackErr))
		}
		metrics.JobsTotal.WithLabelValues("failed").Inc()
	case isDuplicate:
		log.Debug("Duplicate submission skipped")
		// Duplicates are still acked so the message leaves the queue.
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK duplicate message", zap.Error(ackErr))
		}
		metrics.JobsTotal.WithLabelValues("duplicate").Inc()
	default:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after judging", zap.Error(ackErr))
		}
		metrics.JobsTotal.WithLabelValues("judged").Inc()
	}
}

// execute runs the processor, turning a panic into an error so the worker survives.
func (p *WorkerPool) execute(ctx context.Context, sub *domain.Submission) (dup bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return p.proc.Execute(ctx, sub)
}
