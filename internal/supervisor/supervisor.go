// ABOUTME: Fleet supervisor owning the managed-process table and restart loop.
// ABOUTME: Spawns upstream/proxy pairs, monitors liveness, restarts with backoff.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/WebRobot-Ltd/ultra-rag/internal/config"
)

const stopGrace = 5 * time.Second

// Options configure a Supervisor beyond the config file.
type Options struct {
	// Launcher spawns processes; defaults to ExecLauncher.
	Launcher Launcher
	// Prober checks proxy responsiveness; defaults to an HTTP prober.
	Prober Prober
	// ProxyCommand is the binary launched for each auth-enabled service.
	ProxyCommand string
	// ConfigPath is passed through to spawned proxies.
	ConfigPath string
	// LogDir receives per-process log files when set.
	LogDir string

	Logger *slog.Logger
}

// entry groups the processes of one logical service. fatal marks services
// whose start failed on a configuration error; the monitor never retries
// those.
type entry struct {
	cfg      config.ServiceConfig
	fatal    bool
	upstream *trackedProcess
	proxy    *trackedProcess
}

type trackedProcess struct {
	record ManagedProcess
	handle Handle
	// retryPending is set while a restart for this process sits in the
	// backoff timer or the restart queue, so the monitor never schedules
	// the same restart twice.
	retryPending bool
}

// restartRequest asks the Run loop to relaunch one process after its
// backoff has elapsed.
type restartRequest struct {
	service string
	role    ProcessRole
}

// Supervisor owns the full set of managed processes. All mutation happens on
// the caller of StartAll/Run/StopAll; concurrent readers use Snapshot.
type Supervisor struct {
	services []config.ServiceConfig
	timing   config.SupervisorConfig
	opts     Options
	launcher Launcher
	prober   Prober
	logger   *slog.Logger

	// restartCh delivers due restarts to the Run loop, which executes them
	// serially. The backoff runs on a timer, never on the monitor
	// goroutine, so one crashed service cannot delay its siblings' checks.
	restartCh chan restartRequest

	mu    sync.Mutex
	table map[string]*entry
}

// New creates a supervisor for the configured services.
func New(cfg *config.Config, opts Options) *Supervisor {
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.Prober == nil {
		opts.Prober = NewHTTPProber(cfg.Supervisor.ProbeTimeout, cfg.Server.MCPPath)
	}
	if opts.ProxyCommand == "" {
		opts.ProxyCommand = "ragproxy"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		services:  cfg.Services,
		timing:    cfg.Supervisor,
		opts:      opts,
		launcher:  opts.Launcher,
		prober:    opts.Prober,
		logger:    logger.With("component", "supervisor"),
		restartCh: make(chan restartRequest, 64),
		table:     make(map[string]*entry),
	}
}

// StartAll starts every configured service. Individual configuration
// failures are logged and leave that service Stopped without affecting
// siblings. Returns an error only when no service could be started at all.
func (s *Supervisor) StartAll(ctx context.Context) error {
	started := 0
	for _, svc := range s.services {
		if err := s.Start(ctx, svc.Name); err != nil {
			s.logger.Error("service failed to start", "service", svc.Name, "error", err)
			continue
		}
		started++
	}
	if started == 0 && len(s.services) > 0 {
		return fmt.Errorf("no service could be started")
	}
	return nil
}

// Start spawns the upstream process for the named service and, when auth is
// enabled, its paired proxy. A missing binary is a fatal configuration
// error: the service is recorded Stopped, any half-started sibling process
// is torn down, and the monitor never retries it.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	svc, ok := s.serviceConfig(name)
	if !ok {
		return fmt.Errorf("unknown service %q", name)
	}

	s.mu.Lock()
	e, exists := s.table[name]
	if !exists {
		e = &entry{cfg: svc}
		s.table[name] = e
	}
	s.mu.Unlock()

	if err := s.startUpstream(ctx, e); err != nil {
		return err
	}
	if svc.Auth {
		if err := s.startProxy(ctx, e); err != nil {
			if s.isFatal(e) {
				s.abortService(e)
			}
			return err
		}
	}
	return nil
}

func (s *Supervisor) startUpstream(ctx context.Context, e *entry) error {
	svc := e.cfg
	spec := ProcessSpec{
		Name:    svc.Name,
		Command: svc.Command,
		Args:    svc.Args,
		WorkDir: svc.WorkDir,
		LogPath: s.logPath(svc.Name, RoleUpstream),
	}

	tp, err := s.launch(ctx, e, spec, ManagedProcess{
		ServiceName: svc.Name,
		Role:        RoleUpstream,
		Port:        svc.Port,
		LogPath:     spec.LogPath,
	})
	if err != nil {
		return err
	}
	s.setProcess(e, RoleUpstream, tp)
	return nil
}

func (s *Supervisor) startProxy(ctx context.Context, e *entry) error {
	svc := e.cfg
	upstreamAddr := fmt.Sprintf("http://127.0.0.1:%d", svc.Port)
	spec := ProcessSpec{
		Name:    svc.Name + "-proxy",
		Command: s.opts.ProxyCommand,
		Args: []string{
			"serve",
			"--config", s.opts.ConfigPath,
			"--service", svc.Name,
			"--listen", fmt.Sprintf("127.0.0.1:%d", svc.ProxyPort),
			"--upstream", upstreamAddr,
		},
		LogPath: s.logPath(svc.Name, RoleProxy),
	}

	tp, err := s.launch(ctx, e, spec, ManagedProcess{
		ServiceName:  svc.Name,
		Role:         RoleProxy,
		Port:         svc.ProxyPort,
		UpstreamAddr: upstreamAddr,
		LogPath:      spec.LogPath,
	})
	if err != nil {
		return err
	}
	s.setProcess(e, RoleProxy, tp)
	return nil
}

// launch spawns one process and returns its tracked record. A missing
// binary is fatal for the service; any other launch error is recorded
// Crashed so the restart path keeps retrying it.
func (s *Supervisor) launch(ctx context.Context, e *entry, spec ProcessSpec, record ManagedProcess) (*trackedProcess, error) {
	record.State = StateStarting
	s.logger.Info("starting process", "service", record.ServiceName, "role", record.Role, "port", record.Port)

	handle, err := s.launcher.Start(ctx, spec)
	if err != nil {
		s.recordFailure(e, record, err, errors.Is(err, exec.ErrNotFound))
		return nil, fmt.Errorf("launching %s %s: %w", record.ServiceName, record.Role, err)
	}

	record.PID = handle.PID()
	record.StartTime = time.Now()
	record.State = StateRunning
	record.LastError = ""
	s.logger.Info("process running", "service", record.ServiceName, "role", record.Role, "pid", record.PID)
	return &trackedProcess{record: record, handle: handle}, nil
}

func (s *Supervisor) recordFailure(e *entry, record ManagedProcess, err error, fatal bool) {
	record.LastError = err.Error()
	if fatal {
		record.State = StateStopped
	} else {
		record.State = StateCrashed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fatal {
		e.fatal = true
	}
	tp := &trackedProcess{record: record}
	if record.Role == RoleProxy {
		e.proxy = tp
	} else {
		e.upstream = tp
	}
}

func (s *Supervisor) setProcess(e *entry, role ProcessRole, tp *trackedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == RoleProxy {
		e.proxy = tp
	} else {
		e.upstream = tp
	}
}

// abortService tears down whatever part of a fatally failed service already
// started, so a half-started pair never leaks an unsupervised process.
func (s *Supervisor) abortService(e *entry) {
	s.mu.Lock()
	up := e.upstream
	s.mu.Unlock()
	if up == nil {
		return
	}
	s.stopProcess(up)
	s.mu.Lock()
	up.record.State = StateStopped
	s.mu.Unlock()
}

// Run drives the monitoring loop until the context is canceled. Due
// restarts are executed here too, so restart attempts for a service are
// serialized with each other and with liveness checks. The caller is
// expected to StopAll afterwards; cancellation stops monitoring first so a
// restart never races a deliberate stop.
func (s *Supervisor) Run(ctx context.Context) {
	interval := s.timing.MonitorInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("monitor loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor loop stopped")
			return
		case <-ticker.C:
			s.monitorOnce(ctx)
		case req := <-s.restartCh:
			s.performRestart(ctx, req)
		}
	}
}

// monitorOnce checks every managed process. Crashed or unresponsive ones
// get a restart scheduled after the backoff; the check itself never blocks
// on the backoff, so one failing service cannot stall its siblings' checks.
func (s *Supervisor) monitorOnce(ctx context.Context) {
	for _, e := range s.entries() {
		if e.fatal {
			continue
		}
		s.checkProcess(ctx, e, e.upstream)
		s.checkProcess(ctx, e, e.proxy)
	}
}

func (s *Supervisor) checkProcess(ctx context.Context, e *entry, tp *trackedProcess) {
	if tp == nil {
		return
	}

	if tp.handle == nil || !tp.handle.Alive() {
		switch s.stateOf(tp) {
		case StateStopped:
			// Deliberate stop, nothing to do.
		case StateCrashed, StateUnresponsive:
			// Failure already recorded; make sure a retry is in flight
			// (covers a failed initial start and a dropped queue entry).
			s.scheduleRestart(e, tp.record.Role)
		default:
			tail := ""
			if tp.handle != nil {
				tail = tp.handle.OutputTail()
			}
			s.logger.Error("process died",
				"service", tp.record.ServiceName,
				"role", tp.record.Role,
				"pid", tp.record.PID,
				"output_tail", tail,
			)
			s.transition(e, tp.record.Role, StateCrashed)
			s.scheduleRestart(e, tp.record.Role)
		}
		return
	}

	if tp.record.Role == RoleProxy && s.stateOf(tp) == StateRunning {
		addr := fmt.Sprintf("http://127.0.0.1:%d", tp.record.Port)
		if err := s.prober.Probe(ctx, addr); err != nil {
			s.logger.Error("proxy unresponsive",
				"service", tp.record.ServiceName,
				"addr", addr,
				"error", err,
			)
			s.stopProcess(tp)
			s.transition(e, RoleProxy, StateUnresponsive)
			s.scheduleRestart(e, RoleProxy)
		}
	}
}

// scheduleRestart arms the backoff timer for one process and hands the
// restart to the Run loop when it fires. A second call while one is pending
// is a no-op.
func (s *Supervisor) scheduleRestart(e *entry, role ProcessRole) {
	s.mu.Lock()
	tp := e.upstream
	if role == RoleProxy {
		tp = e.proxy
	}
	if tp == nil || tp.retryPending {
		s.mu.Unlock()
		return
	}
	tp.retryPending = true
	s.mu.Unlock()

	req := restartRequest{service: e.cfg.Name, role: role}
	time.AfterFunc(s.timing.RestartBackoff, func() {
		select {
		case s.restartCh <- req:
		default:
			// Queue full; the next monitor tick reschedules.
			s.logger.Warn("restart queue full, deferring", "service", req.service, "role", req.role)
			s.clearPending(req.service, req.role)
		}
	})
}

// performRestart relaunches one process. Unlimited retries: a transient
// launch failure schedules another attempt; only a missing binary (now
// fatal) or a deliberately stopped service ends the cycle.
func (s *Supervisor) performRestart(ctx context.Context, req restartRequest) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	e, ok := s.table[req.service]
	if ok {
		tp := e.upstream
		if req.role == RoleProxy {
			tp = e.proxy
		}
		if tp != nil {
			tp.retryPending = false
		}
	}
	fatal := ok && e.fatal
	s.mu.Unlock()
	if !ok || fatal {
		return
	}

	s.logger.Info("restarting process", "service", req.service, "role", req.role)
	var err error
	if req.role == RoleProxy {
		err = s.startProxy(ctx, e)
	} else {
		err = s.startUpstream(ctx, e)
	}
	if err != nil {
		s.logger.Error("restart failed", "service", req.service, "role", req.role, "error", err)
		if s.isFatal(e) {
			s.abortService(e)
			return
		}
		s.scheduleRestart(e, req.role)
	}
}

func (s *Supervisor) clearPending(service string, role ProcessRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table[service]
	if !ok {
		return
	}
	tp := e.upstream
	if role == RoleProxy {
		tp = e.proxy
	}
	if tp != nil {
		tp.retryPending = false
	}
}

func (s *Supervisor) transition(e *entry, role ProcessRole, state ProcessState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tp := e.upstream
	if role == RoleProxy {
		tp = e.proxy
	}
	if tp != nil {
		tp.record.State = state
	}
}

func (s *Supervisor) stateOf(tp *trackedProcess) ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tp.record.State
}

func (s *Supervisor) isFatal(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.fatal
}

// Stop gracefully stops one service and removes its table entry. A restart
// already in the queue for it becomes a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	e, ok := s.table[name]
	delete(s.table, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown service %q", name)
	}

	s.stopProcess(e.proxy)
	s.stopProcess(e.upstream)
	return nil
}

// StopAll terminates every managed process and clears the table. Callers
// must cancel Run's context first.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	entries := s.table
	s.table = make(map[string]*entry)
	s.mu.Unlock()

	for name, e := range entries {
		s.logger.Info("stopping service", "service", name)
		s.stopProcess(e.proxy)
		s.stopProcess(e.upstream)
	}
}

// stopProcess sends SIGTERM, waits briefly, then force-kills a straggler.
func (s *Supervisor) stopProcess(tp *trackedProcess) {
	if tp == nil || tp.handle == nil || !tp.handle.Alive() {
		return
	}
	_ = tp.handle.Terminate()
	if !tp.handle.WaitExit(stopGrace) {
		s.logger.Warn("process ignored SIGTERM, killing",
			"service", tp.record.ServiceName, "role", tp.record.Role, "pid", tp.record.PID)
		_ = tp.handle.Kill()
		tp.handle.WaitExit(stopGrace)
	}
	s.mu.Lock()
	tp.record.State = StateStopped
	s.mu.Unlock()
}

// Snapshot returns a copy of every managed-process record for health
// reporting. The returned slice is independent of supervisor state.
func (s *Supervisor) Snapshot() []ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ManagedProcess, 0, len(s.table)*2)
	for _, e := range s.table {
		if e.upstream != nil {
			out = append(out, e.upstream.record)
		}
		if e.proxy != nil {
			out = append(out, e.proxy.record)
		}
	}
	return out
}

func (s *Supervisor) entries() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entry, 0, len(s.table))
	for _, e := range s.table {
		out = append(out, e)
	}
	return out
}

func (s *Supervisor) serviceConfig(name string) (config.ServiceConfig, bool) {
	for _, svc := range s.services {
		if svc.Name == name {
			return svc, true
		}
	}
	return config.ServiceConfig{}, false
}

func (s *Supervisor) logPath(service string, role ProcessRole) string {
	if s.opts.LogDir == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s-%s.log", s.opts.LogDir, service, role)
}
