package service

import (
	"context"
	"sync"
	"time"
	"toefl_assess_backend/internal/util"
	"toefl_assess_backend/pkg/logger"
	"toefl_assess_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// assessTask 一次后台评测。每个提交最多入队一次，没有重试，
// 用户重试只能重新提交
type assessTask struct {
	submissionID string
	kind         string // writing / listening
	run          func(ctx context.Context) error
}

// AssessWorker 有界队列+固定协程数的评测工作池。
// 入队不阻塞：队列满直接报错，由调用方把提交落为failed，
// 保证提交不会无声消失
type AssessWorker struct {
	queue   chan assessTask
	workers int
	wg      sync.WaitGroup
	once    sync.Once
}

func NewAssessWorker(workers, queueSize int) *AssessWorker {
	return &AssessWorker{
		queue:   make(chan assessTask, queueSize),
		workers: workers,
	}
}

func (w *AssessWorker) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop()
	}
	logger.Log.Info("Assessment workers started",
		zap.Int("workers", w.workers), zap.Int("queueSize", cap(w.queue)))
}

func (w *AssessWorker) loop() {
	defer w.wg.Done()
	for task := range w.queue {
		monitoring.AssessmentQueueDepth.Set(float64(len(w.queue)))

		start := time.Now()
		err := task.run(context.Background())
		monitoring.AssessmentTaskDuration.WithLabelValues(task.kind).Observe(time.Since(start).Seconds())

		outcome := "completed"
		if err != nil {
			outcome = "failed"
			logger.Log.Error("Assessment task failed",
				zap.String("submissionId", task.submissionID), zap.Error(err))
		}
		monitoring.AssessmentTaskCounter.WithLabelValues(task.kind, outcome).Inc()
	}
}

// Enqueue 非阻塞入队，队列满时返回ErrQueueFull
func (w *AssessWorker) Enqueue(submissionID, kind string, run func(ctx context.Context) error) error {
	task := assessTask{submissionID: submissionID, kind: kind, run: run}
	select {
	case w.queue <- task:
		monitoring.AssessmentQueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		return util.ErrQueueFull
	}
}

// Stop 关闭队列并等待在途任务完成，用于优雅退出
func (w *AssessWorker) Stop() {
	w.once.Do(func() {
		close(w.queue)
	})
	w.wg.Wait()
}
