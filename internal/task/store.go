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

package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mcp-scheduler/pkg/metrics"
)

// defaultCompletedCap 已完成表默认容量，超出后最老的终态任务被淘汰
const defaultCompletedCap = 1000

// Store 内存任务存储：活跃 + 有界的已完成两张表，插入序索引。
// 重复抑制与准入控制在同一临界区内完成，两个并发提交不会同时通过检查。
// 已完成表按终态时间 FIFO 淘汰，进程不会无限持有历史任务。
type Store struct {
	mu             sync.RWMutex
	active         map[string]*Task
	completed      map[string]*Task
	order          []string // 留存任务 ID，插入序，List 的稳定遍历基准
	completedOrder []string // 终态 ID，终态序，淘汰基准
	completedCap   int
}

// Stats 状态面聚合计数
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// NewStore 创建内存任务存储，已完成表使用默认容量
func NewStore() *Store {
	return NewStoreWithCapacity(defaultCompletedCap)
}

// NewStoreWithCapacity 创建内存任务存储；completedCap <= 0 使用默认容量
func NewStoreWithCapacity(completedCap int) *Store {
	if completedCap <= 0 {
		completedCap = defaultCompletedCap
	}
	return &Store{
		active:       make(map[string]*Task),
		completed:    make(map[string]*Task),
		completedCap: completedCap,
	}
}

// Admit 在单个临界区内完成重复抑制 + 准入控制 + 插入。
// 返回 (已存在的重复任务快照, nil) 表示重复抑制命中，未创建新任务；
// 返回 (nil, ErrSchedulerBusy) 表示活跃任务达到上限；
// 返回 (nil, nil) 表示 t 已分配 ID 并入表。
func (s *Store) Admit(t *Task, maxActive int) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 重复扫描只看活跃表，代价为 O(活跃任务数)
	names := t.toolNames()
	for _, existing := range s.active {
		if existing.Query == t.Query && sameToolNames(existing.toolNames(), names) {
			return existing.clone(), nil
		}
	}

	if maxActive > 0 && len(s.active) >= maxActive {
		return nil, ErrSchedulerBusy
	}

	if t.ID == "" {
		t.ID = "task-" + uuid.New().String()
	}
	t.Status = StatusQueued
	t.CreatedAt = time.Now().UTC()
	s.active[t.ID] = t
	s.order = append(s.order, t.ID)
	metrics.ActiveTasks.Set(float64(len(s.active)))
	return nil, nil
}

// Get 返回任务快照；活跃与已完成均无时返回 ErrTaskNotFound
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.active[id]; ok {
		return t.clone(), nil
	}
	if t, ok := s.completed[id]; ok {
		return t.clone(), nil
	}
	return nil, ErrTaskNotFound
}

// List 按插入序返回匹配快照；status/sessionID 为空表示不过滤
func (s *Store) List(status Status, sessionID string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, id := range s.order {
		t, ok := s.active[id]
		if !ok {
			t, ok = s.completed[id]
		}
		if !ok {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		out = append(out, t.clone())
	}
	return out
}

// MarkRunning 将 queued 任务置为 running；任务不存在或已离开 queued 时返回 false
func (s *Store) MarkRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.active[id]
	if !ok || t.Status != StatusQueued {
		return false
	}
	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	return true
}

// Finish 将活跃任务置为终态并移入已完成表（仅此一处发生 active→completed 迁移）。
// 任务已不在活跃表（如已被取消）时返回 false，调用方丢弃结果。
func (s *Store) Finish(id string, status Status, result any, errMsg string) bool {
	if !status.Terminal() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.active[id]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	t.Status = status
	t.CompletedAt = &now
	t.Result = result
	t.Error = errMsg
	delete(s.active, id)
	s.completed[id] = t
	s.completedOrder = append(s.completedOrder, id)
	s.evictCompletedLocked()
	metrics.ActiveTasks.Set(float64(len(s.active)))
	metrics.TaskTotal.WithLabelValues(string(status)).Inc()
	if t.StartedAt != nil {
		metrics.TaskDuration.Observe(now.Sub(*t.StartedAt).Seconds())
	}
	return true
}

// evictCompletedLocked 超出容量时淘汰最老的终态任务，并同步清理插入序索引。
// 调用方必须持有写锁。
func (s *Store) evictCompletedLocked() {
	for len(s.completed) > s.completedCap && len(s.completedOrder) > 0 {
		oldest := s.completedOrder[0]
		s.completedOrder = s.completedOrder[1:]
		if _, ok := s.completed[oldest]; !ok {
			continue
		}
		delete(s.completed, oldest)
		for i, id := range s.order {
			if id == oldest {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// Cancel 取消仍未到终态的任务；已终态返回 (false, nil)，未知 ID 返回 ErrTaskNotFound
func (s *Store) Cancel(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.active[id]; ok {
		now := time.Now().UTC()
		t.Status = StatusCancelled
		t.CompletedAt = &now
		delete(s.active, id)
		s.completed[id] = t
		s.completedOrder = append(s.completedOrder, id)
		s.evictCompletedLocked()
		metrics.ActiveTasks.Set(float64(len(s.active)))
		metrics.TaskTotal.WithLabelValues(string(StatusCancelled)).Inc()
		return true, nil
	}
	if _, ok := s.completed[id]; ok {
		return false, nil
	}
	return false, ErrTaskNotFound
}

// ActiveCount 当前活跃任务数
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Counts 聚合计数（供 GET /api/status）
func (s *Store) Counts() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, t := range s.active {
		switch t.Status {
		case StatusQueued:
			st.Queued++
		case StatusRunning:
			st.Running++
		}
	}
	for _, t := range s.completed {
		switch t.Status {
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}
