// Package orchestrator owns the daemon's control loops, task queue, and
// lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ccjk/daemon/internal/cloudclient"
	"github.com/ccjk/daemon/internal/config"
	"github.com/ccjk/daemon/internal/email"
	"github.com/ccjk/daemon/internal/executor"
	"github.com/ccjk/daemon/internal/policy"
	"github.com/ccjk/daemon/internal/task"
)

// Orchestrator is the only component with loops and mutable state. Every
// other component (policy, executor, email source/sink, cloud client) is a
// pure or I/O-only collaborator it holds a handle to.
type Orchestrator struct {
	cfg    *config.DaemonConfig
	pol    *policy.Policy
	exec   *executor.Executor
	store  *task.Store

	emailSrc  *email.Source
	emailSink *email.Sink
	cloud     *cloudclient.Client

	wg         sync.WaitGroup
	cancel     context.CancelFunc
	startedAt  time.Time
	lastHBMu   sync.Mutex
	lastHBAt   time.Time
	degradedMu sync.Mutex
	emailOK    bool
	cloudOK    bool
}

// New wires an Orchestrator from its config and collaborators. emailSrc /
// emailSink / cloud may be nil when the corresponding half of mode isn't
// enabled.
func New(cfg *config.DaemonConfig, pol *policy.Policy, exec *executor.Executor, emailSrc *email.Source, emailSink *email.Sink, cloud *cloudclient.Client) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		pol:       pol,
		exec:      exec,
		store:     task.NewStore(),
		emailSrc:  emailSrc,
		emailSink: emailSink,
		cloud:     cloud,
		emailOK:   cfg.EmailEnabled(),
		cloudOK:   cfg.CloudEnabled(),
	}
}

// Run starts the poll and dispatch loops and, if cloud is enabled, the
// heartbeat and cloud-session loops, and blocks until ctx is cancelled, at which point it
// drains in-flight work before returning.
func (o *Orchestrator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.startedAt = time.Now()

	if o.cloud != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.cloud.Run(runCtx)
		}()
	}

	o.wg.Add(1)
	go o.pollLoop(runCtx)

	if o.cfg.CloudEnabled() {
		o.wg.Add(1)
		go o.heartbeatLoop(runCtx)
	}

	o.wg.Add(1)
	go o.dispatchLoop(runCtx)

	<-runCtx.Done()
	o.shutdown()
}

// Stop requests a graceful shutdown; Run returns once drain completes.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(time.Duration(o.cfg.CheckIntervalSec) * time.Second)
	defer ticker.Stop()

	o.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollOnce(ctx)
		}
	}
}

// pollOnce runs one tick of email/cloud ingest. Hybrid mode enqueues
// cloud-sourced tasks before email-sourced ones discovered in the same
// tick, so a hybrid-mode daemon favors cloud-leased work under load.
func (o *Orchestrator) pollOnce(ctx context.Context) {
	var cloudTasks []*task.Task

	o.degradedMu.Lock()
	cloudOK := o.cloudOK
	o.degradedMu.Unlock()

	if o.cfg.CloudEnabled() && o.cloud != nil && cloudOK {
		remote, err := o.cloud.PullTasks(ctx)
		if err != nil {
			slog.Error("cloud pullTasks failed", "error", err)
		} else {
			for _, rt := range remote {
				cloudTasks = append(cloudTasks, fromRemoteTask(rt))
			}
		}
	}
	if len(cloudTasks) > 0 {
		o.store.EnqueueMany(cloudTasks)
	}

	o.degradedMu.Lock()
	emailOK := o.emailOK
	o.degradedMu.Unlock()

	if o.cfg.EmailEnabled() && o.emailSrc != nil && emailOK {
		err := o.emailSrc.Poll(func(t *task.Task) error {
			o.store.Enqueue(t)
			return nil
		})
		if errors.Is(err, email.ErrAuth) {
			slog.Error("imap authentication failed, disabling email polling", "error", err)
			o.degradedMu.Lock()
			o.emailOK = false
			o.degradedMu.Unlock()
		} else if err != nil {
			slog.Error("email poll failed", "error", err)
		}
	}
}

func fromRemoteTask(rt cloudclient.RemoteTask) *task.Task {
	t := &task.Task{
		ID:         rt.ID,
		Source:     task.SourceCloud,
		Command:    rt.Command,
		Cwd:        rt.Cwd,
		Env:        rt.Env,
		Originator: rt.ID,
		ReceivedAt: time.Now(),
	}
	if rt.TimeoutMs > 0 {
		t.TimeoutSec = rt.TimeoutMs / 1000
	}
	return t
}

func (o *Orchestrator) heartbeatLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(time.Duration(o.cfg.HeartbeatIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.heartbeatOnce(ctx)
		}
	}
}

func (o *Orchestrator) heartbeatOnce(ctx context.Context) {
	if o.cloud == nil || !o.cloudOK {
		return
	}
	status := "online"
	running := o.store.RunningIDs()
	if len(running) > 0 {
		status = "busy"
	}
	_, err := o.cloud.Heartbeat(ctx, status, running)
	if err == cloudclient.ErrUnauthorized {
		slog.Warn("cloud heartbeat unauthorized, attempting re-registration")
		if _, regErr := o.cloud.Register(ctx, o.cfg.Cloud.Email, o.cfg.Cloud.Password); regErr != nil {
			slog.Warn("cloud re-registration failed, demoting to degraded mode", "error", regErr)
			o.degradedMu.Lock()
			o.cloudOK = false
			o.degradedMu.Unlock()
			return
		}
		slog.Info("cloud re-registration succeeded")
		return
	}
	if err != nil {
		slog.Error("heartbeat failed, continuing best-effort", "error", err)
		return
	}
	o.lastHBMu.Lock()
	o.lastHBAt = time.Now()
	o.lastHBMu.Unlock()
}

func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				t := o.store.TryDequeue(o.cfg.MaxConcurrentTasks)
				if t == nil {
					break
				}
				o.wg.Add(1)
				go o.runTask(ctx, t)
			}
		}
	}
}

// runTask applies the policy gate, executes on Allow, and routes the
// result to the task's originating sink exactly once.
func (o *Orchestrator) runTask(ctx context.Context, t *task.Task) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.State = task.StateFailed
			t.Result = &task.Result{ExitCode: task.ExitSpawnFailure, ErrorMessage: "panic in task worker"}
			t.CompletedAt = time.Now()
			o.store.Complete(t)
			o.deliver(ctx, t)
			slog.Error("recovered panic in task worker", "task_id", t.ID, "panic", r)
		}
	}()

	sender := senderFor(t)
	decision := o.pol.Decide(sender, t.Command)
	if !decision.Allow {
		t.State = task.StateRejected
		t.Result = &task.Result{
			ExitCode:     task.ExitPolicyReject,
			ErrorMessage: decision.String(),
		}
		t.CompletedAt = time.Now()
		o.store.Complete(t)
		slog.Info("task rejected by policy", "kind", "POLICY_REJECT", "task_id", t.ID, "reason", decision.Reason, "detail", decision.Detail)
		o.deliver(ctx, t)
		return
	}

	t.StartedAt = time.Now()
	result := o.exec.Execute(ctx, t, o.cfg.TaskTimeoutSec, o.cfg.ProjectPath, nil)
	t.Result = result
	t.CompletedAt = time.Now()

	switch {
	case result.ExitCode == task.ExitTimeout:
		t.State = task.StateTimeout
	case result.ExitCode == task.ExitSpawnFailure:
		t.State = task.StateFailed
	case result.ExitCode != 0:
		t.State = task.StateFailed
	default:
		t.State = task.StateCompleted
	}

	o.store.Complete(t)
	o.deliver(ctx, t)
}

// senderFor resolves the identity the security policy checks: the email
// address for email-sourced tasks, or a synthetic cloud-device identity
// for cloud-sourced ones (the cloud server has already authenticated the
// device before leasing the task, so policy's sender check is satisfied by
// an allowlist entry for the daemon's own device identity).
func senderFor(t *task.Task) string {
	if t.Source == task.SourceEmail {
		return t.Originator
	}
	return "cloud-device"
}

// deliver routes a terminal task's result to the sink matching its
// source, marking Notified on success. A delivery failure never triggers
// re-execution; it is only logged.
func (o *Orchestrator) deliver(ctx context.Context, t *task.Task) {
	switch t.Source {
	case task.SourceEmail:
		if o.emailSink == nil {
			return
		}
		if err := o.emailSink.Send(t); err != nil {
			t.Notified = false
			slog.Error("smtp result delivery failed", "task_id", t.ID, "originator", t.Originator, "error", err,
				"undelivered_result", t.Result)
			return
		}
		t.Notified = true
	case task.SourceCloud:
		if o.cloud == nil {
			return
		}
		body := cloudResultBody(t)
		if err := o.cloud.ReportResult(ctx, t.ID, body); err != nil {
			t.Notified = false
			slog.Error("cloud result post exhausted retries, dropping", "kind", "result-lost", "task_id", t.ID, "error", err,
				"undelivered_result", t.Result)
			return
		}
		t.Notified = true
	}
}

// cloudResultBody maps a terminal task's local state onto the wire shape
// POST /daemon/tasks/:id/result expects.
func cloudResultBody(t *task.Task) cloudclient.ResultRequest {
	r := t.Result
	body := cloudclient.ResultRequest{
		Status:   strings.ToLower(string(t.State)),
		ExitCode: r.ExitCode,
		Stdout:   r.StdoutTail,
		Stderr:   r.StderrTail,
		Error:    r.ErrorMessage,
	}
	return body
}

// Status is a point-in-time health snapshot of a running Orchestrator. The
// `daemon status` CLI command does not call it: that command runs in a
// separate process and reads the lock, config, and log files instead.
type Status struct {
	Mode            config.Mode
	Uptime          time.Duration
	Running         int
	QueueDepth      int
	LastHeartbeatAt time.Time
	EmailHealthy    bool
	CloudHealthy    bool
}

func (o *Orchestrator) Status() Status {
	o.lastHBMu.Lock()
	lastHB := o.lastHBAt
	o.lastHBMu.Unlock()
	o.degradedMu.Lock()
	emailOK, cloudOK := o.emailOK, o.cloudOK
	o.degradedMu.Unlock()

	return Status{
		Mode:            o.cfg.Mode,
		Uptime:          time.Since(o.startedAt),
		Running:         o.store.RunningCount(),
		QueueDepth:      o.store.QueueDepth(),
		LastHeartbeatAt: lastHB,
		EmailHealthy:    emailOK,
		CloudHealthy:    cloudOK,
	}
}

// shutdown stops accepting new
// enqueues (pollLoop already exited via ctx), wait up to
// taskTimeoutSec+10s for running tasks to settle, then return so callers
// can release the lock.
func (o *Orchestrator) shutdown() {
	drained := o.store.DrainPending()
	if len(drained) > 0 {
		slog.Info("discarding pending tasks on shutdown", "count", len(drained))
	}

	grace := time.Duration(o.cfg.TaskTimeoutSec+10) * time.Second
	waitDone := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(grace):
		for _, t := range o.store.RunningSnapshot() {
			slog.Error("task did not settle before shutdown grace expired", "task_id", t.ID, "command", t.Command)
		}
	}
}
