// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"mcp-scheduler/internal/task"
	"mcp-scheduler/pkg/log"
	"mcp-scheduler/pkg/metrics"
)

// ToolCaller 带降级地执行单次工具调用（由 resolver.Resolver 实现）
type ToolCaller interface {
	CallWithFallback(ctx context.Context, spec task.ToolCallSpec) task.ToolCallResult
}

// Config 调度器配置
type Config struct {
	Workers       int           // 工作协程数，<=0 使用默认 10
	MaxActive     int           // 活跃任务上限（准入控制），<=0 使用默认 50
	SyncWait      time.Duration // 同步模式最长等待
	SyncPoll      time.Duration // 同步模式轮询间隔
	IdemCacheSize int           // 幂等缓存容量
}

// Request 一次调度请求
type Request struct {
	Query       string
	ToolCalls   []task.ToolCallSpec
	SessionID   string
	RequestID   string
	CallbackURL string
	Synchronous bool
}

// Outcome 调度结果，形状与 HTTP 响应一致
type Outcome struct {
	Success    bool   `json:"success"`
	TaskID     string `json:"task_id"`
	Message    string `json:"message"`
	Result     any    `json:"result,omitempty"`
	Idempotent bool   `json:"idempotent,omitempty"`
}

// Scheduler 固定 worker 池 + FIFO 队列：准入、去重、派发、回调投递
type Scheduler struct {
	store    *task.Store
	caller   ToolCaller
	notifier *CallbackNotifier // 可为 nil（不投递回调）
	cfg      Config
	queue    chan string
	idem     *lru.Cache[string, Outcome]
	logger   *log.Logger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New 创建调度器；notifier 可为 nil
func New(store *task.Store, caller ToolCaller, notifier *CallbackNotifier, cfg Config, logger *log.Logger) (*Scheduler, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 50
	}
	if cfg.SyncWait <= 0 {
		cfg.SyncWait = 60 * time.Second
	}
	if cfg.SyncPoll <= 0 {
		cfg.SyncPoll = time.Second
	}
	if cfg.IdemCacheSize <= 0 {
		cfg.IdemCacheSize = 2048
	}
	idem, err := lru.New[string, Outcome](cfg.IdemCacheSize)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		store:    store,
		caller:   caller,
		notifier: notifier,
		cfg:      cfg,
		queue:    make(chan string, cfg.MaxActive),
		idem:     idem,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start 启动 worker 池
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	if s.notifier != nil {
		s.notifier.Start()
	}
}

// Stop 优雅退出：不再接收新任务，等待在途任务与回调投递完成
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	if s.notifier != nil {
		s.notifier.Stop()
	}
}

// QueueDepth 当前排队任务数
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// Workers 工作协程数
func (s *Scheduler) Workers() int {
	return s.cfg.Workers
}

// MaxActive 活跃任务上限
func (s *Scheduler) MaxActive() int {
	return s.cfg.MaxActive
}

// DeadLetters 回调死信快照；未配置 notifier 时为 nil
func (s *Scheduler) DeadLetters() []DeadLetter {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.DeadLetters()
}

// Schedule 提交任务：幂等命中直接返回缓存；重复抑制返回已有任务 ID；
// 活跃任务达上限返回 ErrSchedulerBusy；同步模式下轮询等待终态
func (s *Scheduler) Schedule(ctx context.Context, req Request) (Outcome, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Outcome{}, fmt.Errorf("scheduler: stopped")
	}
	s.mu.Unlock()

	if req.RequestID != "" {
		if cached, ok := s.idem.Get(req.RequestID); ok {
			cached.Idempotent = true
			return cached, nil
		}
	}

	t, err := task.NewTask(req.Query, req.ToolCalls, req.SessionID, req.RequestID, req.CallbackURL)
	if err != nil {
		return Outcome{}, err
	}

	dup, err := s.store.Admit(t, s.cfg.MaxActive)
	if err != nil {
		return Outcome{}, err
	}
	if dup != nil {
		return Outcome{
			Success: true,
			TaskID:  dup.ID,
			Message: "重复任务，已跳过",
		}, nil
	}

	select {
	case s.queue <- t.ID:
		metrics.QueueDepth.Set(float64(len(s.queue)))
	default:
		// 准入控制保证队列不会满；兜底防御，任务直接判失败
		s.store.Finish(t.ID, task.StatusFailed, nil, "queue full")
		return Outcome{}, task.ErrSchedulerBusy
	}

	if !req.Synchronous {
		return Outcome{Success: true, TaskID: t.ID, Message: "任务已入队"}, nil
	}
	return s.waitTerminal(ctx, t.ID)
}

// waitTerminal 同步模式：按 SyncPoll 轮询直到终态或超出 SyncWait；超时不取消任务
func (s *Scheduler) waitTerminal(ctx context.Context, taskID string) (Outcome, error) {
	deadline := time.Now().Add(s.cfg.SyncWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(s.cfg.SyncPoll):
		}
		t, err := s.store.Get(taskID)
		if err != nil {
			return Outcome{}, err
		}
		if t.Status.Terminal() {
			return outcomeFromTask(t), nil
		}
	}
	return Outcome{
		Success: false,
		TaskID:  taskID,
		Message: "同步等待超时，任务继续在后台执行",
	}, nil
}

func outcomeFromTask(t *task.Task) Outcome {
	out := Outcome{
		Success: t.Status == task.StatusCompleted,
		TaskID:  t.ID,
		Message: "任务" + string(t.Status),
		Result:  t.Result,
	}
	return out
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-s.queue:
			metrics.QueueDepth.Set(float64(len(s.queue)))
			s.run(ctx, id)
		}
	}
}

// run 执行一条任务；任意 panic/错误都不会杀死 worker
func (s *Scheduler) run(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("任务执行 panic", "task_id", id, "panic", r)
			s.finish(id, task.StatusFailed, nil, fmt.Sprintf("panic: %v", r))
		}
	}()

	if !s.store.MarkRunning(id) {
		// 入队后被取消，丢弃
		return
	}
	t, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("读取任务失败", "task_id", id, "error", err)
		return
	}

	// 工具调用按列表顺序依次执行；单个失败不影响其余，失败信息进入对应结果项。
	// 例外：任务只有一条调用且该调用失败时，整个任务判失败
	results := make([]task.ToolCallResult, 0, len(t.ToolCalls))
	for _, spec := range t.ToolCalls {
		results = append(results, s.caller.CallWithFallback(ctx, spec))
	}

	if len(results) == 1 && !results[0].Success {
		errMsg := results[0].Error
		if errMsg == "" {
			errMsg = "工具调用失败"
		}
		s.finish(id, task.StatusFailed, results, errMsg)
		return
	}
	s.finish(id, task.StatusCompleted, results, "")
}

// finish 落终态 + 幂等缓存 + 回调投递；任务已被取消时结果直接丢弃
func (s *Scheduler) finish(id string, status task.Status, results []task.ToolCallResult, errMsg string) {
	var result any
	if results != nil {
		result = results
	}
	if !s.store.Finish(id, status, result, errMsg) {
		s.logger.Info("任务已取消，结果丢弃", "task_id", id)
		return
	}
	t, err := s.store.Get(id)
	if err != nil {
		return
	}
	if t.RequestID != "" {
		s.idem.Add(t.RequestID, outcomeFromTask(t))
	}
	if s.notifier != nil && t.CallbackURL != "" {
		completedAt := ""
		if t.CompletedAt != nil {
			completedAt = t.CompletedAt.Format(time.RFC3339)
		}
		s.notifier.Enqueue(Delivery{
			URL:         t.CallbackURL,
			TaskID:      t.ID,
			SessionID:   t.SessionID,
			Success:     t.Status == task.StatusCompleted,
			Result:      t.Result,
			Error:       t.Error,
			CompletedAt: completedAt,
		})
	}
}
