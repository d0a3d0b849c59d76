package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/credit-topup/internal/queue"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/redis"
	"github.com/nimasrn/credit-topup/pkg/worker"
)

const ProcessingTimeout = time.Second * 30
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

type ProcessorConfig struct {
	Queue queue.QueueConfig
	// Consumers is the number of stream consumers sharing the group.
	Consumers int
	Workers   int
	// BufferSize bounds jobs waiting for a free worker.
	BufferSize        int
	ProcessingTimeout time.Duration
	ReportInterval    time.Duration
}

// ProcessorService is the main service that processes queue messages
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ProcessorConfig
	queues    []*queue.Queue
	processor Processor
	metrics   *SweepMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

// Processor interface for different message processors
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

func NewProcessorService(redis redis.RedisAdapter, config ProcessorConfig) (*ProcessorService, error) {
	if config.Queue.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.Workers * 10
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = ProcessingTimeout
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = HealthInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter: redis,
		config:  config,
		queues:  make([]*queue.Queue, 0, config.Consumers),
		metrics: NewSweepMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		worker:  worker.NewWorkerManager(config.BufferSize, config.Workers, nil),
	}, nil
}

func (s *ProcessorService) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("Registered processor", "type", processor.GetType())
}

func (s *ProcessorService) Metrics() *SweepMetrics {
	return s.metrics
}

// Start launches the worker pool and the stream consumers. It returns once
// everything is running.
func (s *ProcessorService) Start() error {
	logger.Info("Starting Processor Service...")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(s.ctx); err != nil && !errors.Is(err, worker.ErrStopped) {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		queueConfig := s.config.Queue
		if queueConfig.ConsumerName == "" {
			queueConfig.ConsumerName = "reverifier"
		}
		queueConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", queueConfig.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}

		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
		logger.Info("Started consumer instance", "instance", i, "queue", queueConfig.Name)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Processor Service started", "consumers", len(s.queues), "workers", s.worker.Size())
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	logger.Info("Sweep stats", s.metrics.Snapshot().logFields()...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// consumers share one stream, so its stats are read once
	if len(s.queues) > 0 {
		if qStats, err := s.queues[0].GetStats(ctx); err == nil {
			logger.Info("Queue stats", "queue", s.config.Queue.Name, "total", qStats.TotalMessages,
				"pending", qStats.PendingMessages, "dead_letters", qStats.DeadLetters,
				"consumers", qStats.ConsumerCount, "unread_jobs", s.worker.GetUnreadCount())
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	if len(s.queues) > 0 {
		stats, err := s.queues[0].GetStats(ctx)
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "error", err)
			return
		}
		if stats.PendingMessages > 10000 {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "pending_messages", stats.PendingMessages)
		}
	}

	logger.Debug("HEALTH CHECK: OK - Service healthy")
}

// Stop gracefully stops the service
func (s *ProcessorService) Stop() {
	logger.Info("Shutting down Processor Service...")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan struct{}, len(s.queues))

	for i, q := range s.queues {
		go func(index int, queue *queue.Queue) {
			if err := queue.Stop(timeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
			stopChan <- struct{}{}
		}(i, q)
	}

	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("Processor Service stopped")
}

type jobResult struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler hands a message to the worker pool and waits for its result,
// which decides between ack and redelivery.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout)
	defer cancel()

	job := &jobResult{
		msg:        msg,
		resultChan: resultChan,
		ctx:        msgCtx,
	}

	if err := s.worker.Enqueue(msgCtx, job); err != nil {
		return fmt.Errorf("enqueue to worker pool: %w", err)
	}

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	start := time.Now()
	var resultErr error

	if s.processor == nil {
		logger.Warn("No processor registered, acknowledging", "worker", workerIndex, "id", jobRes.msg.ID)
		s.metrics.Failed()
	} else if err := s.processor.Process(jobRes.ctx, jobRes.msg); err != nil {
		if errors.Is(err, ErrStillPending) {
			s.metrics.Pending()
			logger.Debug("Message left for redelivery", "worker", workerIndex, "id", jobRes.msg.ID)
		} else {
			s.metrics.Failed()
			logger.Error("Failed to process message", "worker", workerIndex, "id", jobRes.msg.ID, "error", err)
		}
		resultErr = err
	} else {
		s.metrics.Settled(time.Since(start))
	}

	// buffered, so the send never blocks even if messageHandler gave up
	jobRes.resultChan <- resultErr
}
