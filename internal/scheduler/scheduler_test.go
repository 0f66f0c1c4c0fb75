package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mcp-scheduler/internal/task"
	"mcp-scheduler/pkg/log"
)

// fakeCaller 测试用 ToolCaller
type fakeCaller struct {
	fn func(spec task.ToolCallSpec) task.ToolCallResult
}

func (f *fakeCaller) CallWithFallback(ctx context.Context, spec task.ToolCallSpec) task.ToolCallResult {
	return f.fn(spec)
}

func okCaller() *fakeCaller {
	return &fakeCaller{fn: func(spec task.ToolCallSpec) task.ToolCallResult {
		return task.ToolCallResult{Tool: spec.ToolName, Success: true, Attempts: 1}
	}}
}

func newTestScheduler(t *testing.T, store *task.Store, caller ToolCaller, cfg Config) *Scheduler {
	t.Helper()
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	s, err := New(store, caller, nil, cfg, logger)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func waitTerminal(t *testing.T, store *task.Store, id string) *task.Task {
	t.Helper()
	for i := 0; i < 100; i++ {
		time.Sleep(20 * time.Millisecond)
		tk, err := store.Get(id)
		if err == nil && tk.Status.Terminal() {
			return tk
		}
	}
	tk, _ := store.Get(id)
	t.Fatalf("task %s did not reach terminal state, got %+v", id, tk)
	return nil
}

func echoCall(args map[string]any) []task.ToolCallSpec {
	return []task.ToolCallSpec{{ToolName: "echo", Args: args}}
}

func TestScheduler_AsyncCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	s := newTestScheduler(t, store, okCaller(), Config{Workers: 2})
	s.Start(ctx)
	defer s.Stop()

	out, err := s.Schedule(ctx, Request{Query: "hi", ToolCalls: echoCall(nil)})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !out.Success || out.TaskID == "" {
		t.Fatalf("expected accepted outcome, got %+v", out)
	}

	tk := waitTerminal(t, store, out.TaskID)
	if tk.Status != task.StatusCompleted {
		t.Errorf("expected completed, got %s (error %q)", tk.Status, tk.Error)
	}
	results, ok := tk.Result.([]task.ToolCallResult)
	if !ok || len(results) != 1 {
		t.Fatalf("expected 1 tool result, got %#v", tk.Result)
	}
	if results[0].Tool != "echo" || !results[0].Success {
		t.Errorf("unexpected tool result %+v", results[0])
	}
}

func TestScheduler_SyncWaitsForResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	s := newTestScheduler(t, store, okCaller(), Config{
		Workers:  2,
		SyncWait: 5 * time.Second,
		SyncPoll: 10 * time.Millisecond,
	})
	s.Start(ctx)
	defer s.Stop()

	out, err := s.Schedule(ctx, Request{Query: "sync", ToolCalls: echoCall(nil), Synchronous: true})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success outcome, got %+v", out)
	}
	if out.Result == nil {
		t.Errorf("expected result in sync outcome")
	}
}

func TestScheduler_SyncTimeoutKeepsTaskRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	slow := &fakeCaller{fn: func(spec task.ToolCallSpec) task.ToolCallResult {
		time.Sleep(300 * time.Millisecond)
		return task.ToolCallResult{Tool: spec.ToolName, Success: true, Attempts: 1}
	}}
	s := newTestScheduler(t, store, slow, Config{
		Workers:  1,
		SyncWait: 50 * time.Millisecond,
		SyncPoll: 10 * time.Millisecond,
	})
	s.Start(ctx)
	defer s.Stop()

	out, err := s.Schedule(ctx, Request{Query: "slow", ToolCalls: echoCall(nil), Synchronous: true})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if out.Success {
		t.Fatalf("expected timeout outcome, got %+v", out)
	}
	// 超时不取消任务，后台继续完成
	tk := waitTerminal(t, store, out.TaskID)
	if tk.Status != task.StatusCompleted {
		t.Errorf("expected background completion, got %s", tk.Status)
	}
}

func TestScheduler_DuplicateSuppressed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	release := make(chan struct{})
	slow := &fakeCaller{fn: func(spec task.ToolCallSpec) task.ToolCallResult {
		<-release
		return task.ToolCallResult{Tool: spec.ToolName, Success: true, Attempts: 1}
	}}
	s := newTestScheduler(t, store, slow, Config{Workers: 2})
	s.Start(ctx)
	defer s.Stop()
	defer close(release)

	req := Request{Query: "same", ToolCalls: echoCall(map[string]any{"msg": "a"})}
	first, err := s.Schedule(ctx, req)
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	second, err := s.Schedule(ctx, Request{Query: "same", ToolCalls: echoCall(map[string]any{"msg": "b"})})
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	if second.TaskID != first.TaskID {
		t.Errorf("expected duplicate to reuse task %s, got %s", first.TaskID, second.TaskID)
	}
	if !strings.Contains(second.Message, "重复") {
		t.Errorf("expected duplicate message, got %q", second.Message)
	}
	if second.Idempotent {
		t.Errorf("duplicate suppression must not set idempotent")
	}
}

func TestScheduler_IdempotentReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	s := newTestScheduler(t, store, okCaller(), Config{Workers: 2})
	s.Start(ctx)
	defer s.Stop()

	first, err := s.Schedule(ctx, Request{
		Query:     "with request id",
		ToolCalls: echoCall(nil),
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	waitTerminal(t, store, first.TaskID)
	// 幂等缓存写入发生在终态落库之后，留出写入时间
	time.Sleep(100 * time.Millisecond)

	replay, err := s.Schedule(ctx, Request{
		Query:     "with request id",
		ToolCalls: echoCall(nil),
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("replay schedule: %v", err)
	}
	if !replay.Idempotent {
		t.Errorf("expected idempotent replay, got %+v", replay)
	}
	if replay.TaskID != first.TaskID {
		t.Errorf("replay task id = %s, want %s", replay.TaskID, first.TaskID)
	}
}

func TestScheduler_BusyThenRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	release := make(chan struct{})
	slow := &fakeCaller{fn: func(spec task.ToolCallSpec) task.ToolCallResult {
		<-release
		return task.ToolCallResult{Tool: spec.ToolName, Success: true, Attempts: 1}
	}}
	s := newTestScheduler(t, store, slow, Config{Workers: 1, MaxActive: 1})
	s.Start(ctx)
	defer s.Stop()

	first, err := s.Schedule(ctx, Request{Query: "t1", ToolCalls: echoCall(nil)})
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}

	if _, err := s.Schedule(ctx, Request{Query: "t2", ToolCalls: echoCall(nil)}); err != task.ErrSchedulerBusy {
		t.Fatalf("expected ErrSchedulerBusy, got %v", err)
	}

	close(release)
	waitTerminal(t, store, first.TaskID)

	if _, err := s.Schedule(ctx, Request{Query: "t2", ToolCalls: echoCall(nil)}); err != nil {
		t.Errorf("expected recovery after completion, got %v", err)
	}
}

func TestScheduler_SingleFailingCallFailsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	failing := &fakeCaller{fn: func(spec task.ToolCallSpec) task.ToolCallResult {
		return task.ToolCallResult{Tool: spec.ToolName, Success: false, Attempts: 1, Error: "所有候选均失败"}
	}}
	s := newTestScheduler(t, store, failing, Config{Workers: 1})
	s.Start(ctx)
	defer s.Stop()

	out, err := s.Schedule(ctx, Request{Query: "doomed", ToolCalls: echoCall(nil)})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	tk := waitTerminal(t, store, out.TaskID)
	if tk.Status != task.StatusFailed {
		t.Fatalf("expected failed for single failing call, got %s", tk.Status)
	}
	if tk.Error == "" {
		t.Errorf("expected non-empty task error")
	}
	results, ok := tk.Result.([]task.ToolCallResult)
	if !ok || len(results) != 1 || results[0].Success {
		t.Errorf("expected single failed result, got %#v", tk.Result)
	}

	// 多条调用的任务不受单条失败影响，仍然完成
	good, err := s.Schedule(ctx, Request{Query: "multi", ToolCalls: []task.ToolCallSpec{
		{ToolName: "echo"},
		{ToolName: "noop"},
	}})
	if err != nil {
		t.Fatalf("schedule multi: %v", err)
	}
	tk = waitTerminal(t, store, good.TaskID)
	if tk.Status != task.StatusCompleted {
		t.Errorf("multi-call task with contained failures should complete, got %s", tk.Status)
	}
}

func TestScheduler_WorkerSurvivesPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	var calls int32
	caller := &fakeCaller{fn: func(spec task.ToolCallSpec) task.ToolCallResult {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("tool exploded")
		}
		return task.ToolCallResult{Tool: spec.ToolName, Success: true, Attempts: 1}
	}}
	s := newTestScheduler(t, store, caller, Config{Workers: 1})
	s.Start(ctx)
	defer s.Stop()

	bad, err := s.Schedule(ctx, Request{Query: "will panic", ToolCalls: echoCall(nil)})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	tk := waitTerminal(t, store, bad.TaskID)
	if tk.Status != task.StatusFailed {
		t.Fatalf("expected failed after panic, got %s", tk.Status)
	}
	if !strings.Contains(tk.Error, "panic") {
		t.Errorf("expected panic error, got %q", tk.Error)
	}

	// 同一个 worker 仍然存活，可以继续处理任务
	good, err := s.Schedule(ctx, Request{Query: "after panic", ToolCalls: echoCall(nil)})
	if err != nil {
		t.Fatalf("schedule after panic: %v", err)
	}
	tk = waitTerminal(t, store, good.TaskID)
	if tk.Status != task.StatusCompleted {
		t.Errorf("expected completion after panic, got %s", tk.Status)
	}
}

func TestScheduler_CancelledWhileQueuedIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	release := make(chan struct{})
	slow := &fakeCaller{fn: func(spec task.ToolCallSpec) task.ToolCallResult {
		<-release
		return task.ToolCallResult{Tool: spec.ToolName, Success: true, Attempts: 1}
	}}
	s := newTestScheduler(t, store, slow, Config{Workers: 1})
	s.Start(ctx)
	defer s.Stop()

	first, err := s.Schedule(ctx, Request{Query: "occupy", ToolCalls: echoCall(nil)})
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	queued, err := s.Schedule(ctx, Request{Query: "queued", ToolCalls: echoCall(nil)})
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}

	if ok, err := store.Cancel(queued.TaskID); err != nil || !ok {
		t.Fatalf("cancel queued: ok=%v err=%v", ok, err)
	}
	close(release)
	waitTerminal(t, store, first.TaskID)

	// 等 worker 把队列排空后，已取消的任务保持 cancelled 且无结果
	time.Sleep(100 * time.Millisecond)
	tk, err := store.Get(queued.TaskID)
	if err != nil {
		t.Fatalf("get cancelled: %v", err)
	}
	if tk.Status != task.StatusCancelled {
		t.Errorf("expected cancelled, got %s", tk.Status)
	}
	if tk.Result != nil {
		t.Errorf("expected no result for cancelled task, got %#v", tk.Result)
	}
}

func TestScheduler_InvalidRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := task.NewStore()
	s := newTestScheduler(t, store, okCaller(), Config{})
	s.Start(ctx)
	defer s.Stop()

	if _, err := s.Schedule(ctx, Request{}); err != task.ErrInvalidTask {
		t.Errorf("expected ErrInvalidTask, got %v", err)
	}
}

func TestScheduler_ScheduleAfterStop(t *testing.T) {
	store := task.NewStore()
	s := newTestScheduler(t, store, okCaller(), Config{Workers: 1})
	s.Start(context.Background())
	s.Stop()

	if _, err := s.Schedule(context.Background(), Request{Query: "late", ToolCalls: echoCall(nil)}); err == nil {
		t.Errorf("expected error after Stop")
	}
}
