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
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"mcp-scheduler/pkg/log"
	"mcp-scheduler/pkg/metrics"
)

// Delivery 一次回调投递
type Delivery struct {
	URL         string `json:"-"`
	TaskID      string `json:"task_id"`
	SessionID   string `json:"session_id,omitempty"`
	Success     bool   `json:"success"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// DeadLetter 投递失败归档
type DeadLetter struct {
	Delivery  Delivery  `json:"delivery"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	At        time.Time `json:"at"`
}

// NotifierConfig 回调投递配置
type NotifierConfig struct {
	RetryMax       int           // 总尝试次数（含首次），<=0 使用默认 3
	RetryDelay     time.Duration // 重试间隔
	Timeout        time.Duration // 单次请求超时
	DeadLetterSize int           // 死信容量
	QueueSize      int           // 投递队列容量
}

// CallbackNotifier 异步回调投递：单 worker 消费队列，有限重试，耗尽进死信。
// 投递与任务执行解耦，回调失败不影响任务终态
type CallbackNotifier struct {
	client *resty.Client
	cfg    NotifierConfig
	queue  chan Delivery
	logger *log.Logger

	mu     sync.Mutex
	dead   []DeadLetter
	closed bool
	wg     sync.WaitGroup
}

// NewCallbackNotifier 创建回调投递器
func NewCallbackNotifier(cfg NotifierConfig, logger *log.Logger) *CallbackNotifier {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.DeadLetterSize <= 0 {
		cfg.DeadLetterSize = 100
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &CallbackNotifier{
		client: client,
		cfg:    cfg,
		queue:  make(chan Delivery, cfg.QueueSize),
		logger: logger,
	}
}

// Start 启动投递 worker
func (n *CallbackNotifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for d := range n.queue {
			n.deliver(d)
		}
	}()
}

// Stop 关闭队列并等待剩余投递完成
func (n *CallbackNotifier) Stop() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	n.wg.Wait()
}

// Enqueue 提交投递，不阻塞调用方；队列满时直接进死信
func (n *CallbackNotifier) Enqueue(d Delivery) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.addDeadLetter(d, 0, "notifier stopped")
		return
	}
	n.mu.Unlock()
	select {
	case n.queue <- d:
	default:
		n.logger.Warn("回调队列已满，进入死信", "task_id", d.TaskID)
		n.addDeadLetter(d, 0, "queue full")
	}
}

// DeadLetters 返回死信快照（旧→新）
func (n *CallbackNotifier) DeadLetters() []DeadLetter {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]DeadLetter, len(n.dead))
	copy(out, n.dead)
	return out
}

// deliver 有限重试投递；2xx 视为成功
func (n *CallbackNotifier) deliver(d Delivery) {
	var lastErr string
	for attempt := 1; attempt <= n.cfg.RetryMax; attempt++ {
		if attempt > 1 {
			time.Sleep(n.cfg.RetryDelay)
		}
		metrics.CallbackAttemptTotal.Inc()
		resp, err := n.client.R().SetBody(d).Post(d.URL)
		if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			metrics.CallbackDeliveryTotal.WithLabelValues("delivered").Inc()
			n.logger.Info("回调投递成功", "task_id", d.TaskID, "url", d.URL, "attempt", attempt)
			return
		}
		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = "unexpected status " + resp.Status()
		}
		n.logger.Warn("回调投递失败", "task_id", d.TaskID, "url", d.URL, "attempt", attempt, "error", lastErr)
	}
	metrics.CallbackDeliveryTotal.WithLabelValues("dead_letter").Inc()
	n.addDeadLetter(d, n.cfg.RetryMax, lastErr)
}

func (n *CallbackNotifier) addDeadLetter(d Delivery, attempts int, errMsg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dead = append(n.dead, DeadLetter{Delivery: d, Attempts: attempts, LastError: errMsg, At: time.Now().UTC()})
	if len(n.dead) > n.cfg.DeadLetterSize {
		n.dead = n.dead[len(n.dead)-n.cfg.DeadLetterSize:]
	}
}
