// Package agent implements the per-user trading agent: a cooperative
// loop that fuses quotes, detects and sizes opportunities, and hands
// the best candidate to the Executor, once per scan interval.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polyarb/agent/internal/config"
	"github.com/polyarb/agent/internal/detector"
	"github.com/polyarb/agent/internal/executor"
	"github.com/polyarb/agent/internal/quote"
	"github.com/polyarb/agent/internal/sizing"
	"github.com/polyarb/agent/internal/store"
	"github.com/polyarb/agent/pkg/types"
)

// State is a lock-free snapshot of AgentState, safe to read from any
// goroutine (e.g. the Supervisor's status endpoint) while the agent
// loop is running.
type State struct {
	UserID         string
	Running        bool
	Paused         bool
	PauseReason    string
	TradesExecuted int
	PnLRealized    int64
	SessionStartMs int64
	LastScanMs     int64
}

// Agent owns one user's scan → detect → size → execute cycle. Scans
// never overlap: the loop waits for the Executor to return before
// scheduling the next scan.
type Agent struct {
	userID string
	cfg    config.UserConfig
	fees   detector.Fees

	source   *quote.Source
	gate     *sizing.Gate
	exec     *executor.Executor
	accounting *executor.Accounting
	store     *store.Store
	balanceFn func(ctx context.Context) int64

	logger *slog.Logger

	mu          sync.Mutex
	running     bool
	paused      bool
	pauseReason string
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	sessionStartMs atomic.Int64
	lastScanMs     atomic.Int64
}

// Deps bundles the collaborators wired in from the Supervisor: each is
// already bound to this user's signer and venue configuration.
type Deps struct {
	Source     *quote.Source
	Gate       *sizing.Gate
	Executor   *executor.Executor
	Accounting *executor.Accounting
	Store      *store.Store
	// BalanceFn reads the user's current available stable-token balance,
	// checked against a candidate trade's notional before execution.
	BalanceFn func(ctx context.Context) int64
}

// New builds an Agent for one user. It does not start the loop.
func New(userID string, cfg config.UserConfig, fees detector.Fees, deps Deps, logger *slog.Logger) *Agent {
	return &Agent{
		userID:     userID,
		cfg:        cfg,
		fees:       fees,
		source:     deps.Source,
		gate:       deps.Gate,
		exec:       deps.Executor,
		accounting: deps.Accounting,
		store:      deps.Store,
		balanceFn:  deps.BalanceFn,
		logger:     logger.With("component", "agent", "user_id", userID),
	}
}

// ResumePositions re-enters the fill poller for every non-terminal
// position left behind by a prior run, one goroutine per position so a
// stuck resume can't block the others. Intended to be called once at
// startup, before Start.
func (a *Agent) ResumePositions(ctx context.Context) {
	pending := a.store.NonTerminal()
	for _, pos := range pending {
		pos := pos
		a.logger.Info("resuming non-terminal position", "position_id", pos.ID, "status", pos.Status)
		go a.exec.Resume(ctx, pos, executor.Params{
			FillPollInterval:   a.cfg.FillPollInterval(),
			FillPollTimeout:    a.cfg.FillPollTimeout(),
			UnwindPollInterval: a.cfg.UnwindPollInterval(),
		})
	}
}

// Start launches the scan loop in a background goroutine. A no-op if
// already running.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.sessionStartMs.Store(time.Now().UnixMilli())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(loopCtx)
	}()
}

// Stop cancels the loop and blocks until it has exited. Any
// placed-but-unsettled orders left open by an in-flight execution are
// best-effort cancelled by the executor's own timeout/unwind paths; Stop
// does not itself reach into a running execution.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// run is the cooperative scan loop: enforce session gates, scan, size,
// execute, repeat, never overlapping.
func (a *Agent) run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if a.sessionExpired() {
			a.logger.Info("session expired, stopping agent")
			go a.Stop()
			return
		}

		a.scanOnce(ctx)
	}
}

// sessionExpired reports whether any of the three session gates spec'd
// for the Agent Loop have closed: duration, trade count, or daily loss.
// Any one of them ends the session, not just duration.
func (a *Agent) sessionExpired() bool {
	if dur := a.cfg.TradingDuration(); dur > 0 {
		if time.Now().UnixMilli()-a.sessionStartMs.Load() >= dur.Milliseconds() {
			return true
		}
	}
	if a.cfg.MaxTotalTrades > 0 {
		_, tradesExecuted, _ := a.accounting.Snapshot()
		if tradesExecuted >= a.cfg.MaxTotalTrades {
			return true
		}
	}
	return a.gate.LossGuardTripped()
}

// scanOnce runs exactly one scan → detect → size → execute cycle.
func (a *Agent) scanOnce(ctx context.Context) {
	a.lastScanMs.Store(time.Now().UnixMilli())

	snapshot := a.source.Snapshot(ctx)
	opps := detector.Detect(snapshot, a.fees, a.cfg.MinSpreadBps)
	if len(opps) == 0 {
		return
	}

	if a.isPaused() {
		a.logger.Debug("agent paused, skipping execution this scan", "reason", a.PauseReason())
		return
	}

	_, tradesExecuted, _ := a.accounting.Snapshot()
	session := sizing.SessionSnapshot{
		TradesExecuted: tradesExecuted,
		SessionStartMs: a.sessionStartMs.Load(),
	}

	balance := a.balanceFn(ctx)
	for _, opp := range opps {
		notional, reason, ok := a.gate.Evaluate(opp, sizing.Config{
			MinTradeSize:      a.cfg.MinTradeSize,
			MaxTradeSize:      a.cfg.MaxTradeSize,
			MaxResolutionDays: a.cfg.MaxResolutionDays,
			MaxTotalTrades:    a.cfg.MaxTotalTrades,
			TradingDurationMs: a.cfg.TradingDurationMs,
		}, session, balance, balance, sizing.NowMs())
		if !ok {
			a.logger.Debug("opportunity rejected", "market_id", opp.MarketID, "reason", reason)
			continue
		}

		a.executeOpportunity(ctx, opp, notional)
		return // one execution per scan
	}
}

func (a *Agent) executeOpportunity(ctx context.Context, opp types.ArbOpportunity, notional int64) {
	a.accounting.RecordOpen()
	pos, err := a.exec.Execute(ctx, opp, notional, executor.Params{
		FillPollInterval:   a.cfg.FillPollInterval(),
		FillPollTimeout:    a.cfg.FillPollTimeout(),
		UnwindPollInterval: a.cfg.UnwindPollInterval(),
	})
	if err != nil {
		a.logger.Warn("execution failed", "market_id", opp.MarketID, "err", err)
		return
	}

	a.accounting.RecordTerminal(pos)
	a.gate.RecordOutcome(pos.RealizedPnL)
}

// SetPaused is the PauseFunc the Executor calls to flip this agent's
// paused state during an unwind.
func (a *Agent) SetPaused(paused bool, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = paused
	a.pauseReason = reason
}

func (a *Agent) isPaused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// PauseReason returns the current pause reason, empty if not paused.
func (a *Agent) PauseReason() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauseReason
}

// Snapshot returns a lock-free view of the agent's current state.
func (a *Agent) Snapshot() State {
	a.mu.Lock()
	running, paused, reason := a.running, a.paused, a.pauseReason
	a.mu.Unlock()

	pnl, trades, _ := a.accounting.Snapshot()
	return State{
		UserID:         a.userID,
		Running:        running,
		Paused:         paused,
		PauseReason:    reason,
		TradesExecuted: trades,
		PnLRealized:    pnl,
		SessionStartMs: a.sessionStartMs.Load(),
		LastScanMs:     a.lastScanMs.Load(),
	}
}
