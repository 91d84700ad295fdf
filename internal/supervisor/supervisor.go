// Package supervisor owns the lifecycle of every managed user's
// trading agent: creation, start, stop, removal, and status, bounded
// by a configurable concurrency limit. One user failing never affects
// another — each agent is fully isolated.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/polyarb/agent/internal/agent"
	"github.com/polyarb/agent/internal/config"
	"github.com/polyarb/agent/internal/detector"
	"github.com/polyarb/agent/internal/executor"
	"github.com/polyarb/agent/internal/quote"
	"github.com/polyarb/agent/internal/signer"
	"github.com/polyarb/agent/internal/sizing"
	"github.com/polyarb/agent/internal/store"
	"github.com/polyarb/agent/internal/venue"
)

// staticTokens resolves a user's statically configured market list into
// venue token ids, the only resolution strategy this platform supports
// (market discovery is out of scope).
type staticTokens struct {
	byMarket map[string][2]string // marketID -> [yesTokenID, noTokenID]
}

func newStaticTokens(markets []config.MarketSpec) *staticTokens {
	m := make(map[string][2]string, len(markets))
	for _, spec := range markets {
		m[spec.MarketID] = [2]string{spec.YesTokenID, spec.NoTokenID}
	}
	return &staticTokens{byMarket: m}
}

func (t *staticTokens) Resolve(marketID string) (string, string, bool) {
	ids, ok := t.byMarket[marketID]
	if !ok {
		return "", "", false
	}
	return ids[0], ids[1], true
}

// managedAgent bundles an Agent with the resources Supervisor must
// release when the agent is removed.
type managedAgent struct {
	agent      *agent.Agent
	store      *store.Store
	feedCancel context.CancelFunc
}

// Supervisor owns every managed user's agent. Safe for concurrent use.
type Supervisor struct {
	maxConcurrent int
	dataDir       string
	dryRun        bool
	logger        *slog.Logger

	mu     sync.RWMutex
	agents map[string]*managedAgent
}

// New builds a Supervisor bounded to maxConcurrent managed agents
// (created and not yet removed, whether running or not), persisting
// each user's positions under dataDir/<userId>/.
func New(maxConcurrent int, dataDir string, dryRun bool, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		maxConcurrent: maxConcurrent,
		dataDir:       dataDir,
		dryRun:        dryRun,
		logger:        logger.With("component", "supervisor"),
		agents:        make(map[string]*managedAgent),
	}
}

// Create wires a new agent for userID from cfg: a signer, both venue
// adapters, the quote source, sizing gate, executor, and position
// store. It does not start the agent. Fails if the concurrency bound is
// already reached or the user already exists.
func (s *Supervisor) Create(cfg config.UserConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[cfg.UserID]; exists {
		return fmt.Errorf("agent for user %s already exists", cfg.UserID)
	}
	if len(s.agents) >= s.maxConcurrent {
		return fmt.Errorf("max concurrent agents (%d) reached", s.maxConcurrent)
	}

	sgn, err := signer.New(cfg.Wallet)
	if err != nil {
		return fmt.Errorf("build signer for user %s: %w", cfg.UserID, err)
	}

	venueA := venue.NewAMMAdapter(cfg.VenueA, sgn, s.dryRun, s.logger)
	venueB := venue.NewCLOBAdapter(cfg.VenueB, sgn, s.dryRun, s.logger)

	feed := venue.NewQuoteFeed(cfg.VenueB.WSURL, s.logger)
	var tracked []quote.TrackedMarket
	for _, m := range cfg.Markets {
		feed.Track(m.MarketID, m.YesTokenID, m.NoTokenID)
		tracked = append(tracked, quote.TrackedMarket{MarketID: m.MarketID, YesTokenID: m.YesTokenID, NoTokenID: m.NoTokenID})
	}
	src := quote.New(venueA, feed, tracked, s.logger)

	st, err := store.Open(filepath.Join(s.dataDir, cfg.UserID))
	if err != nil {
		return fmt.Errorf("open store for user %s: %w", cfg.UserID, err)
	}

	acc := executor.NewAccounting()
	gate := sizing.NewGate(sizing.NewDailyLossGuard(cfg.DailyLossLimit))

	var ag *agent.Agent
	exec := executor.New(cfg.UserID, venueA, venueB, newStaticTokens(cfg.Markets), st, func(paused bool, reason string) {
		ag.SetPaused(paused, reason)
	}, s.logger)

	fees := detector.Fees{
		VenueAFeeBps:   cfg.VenueAFeeBps,
		VenueBFeeBps:   cfg.VenueBFeeBps,
		GasPriceWei:    cfg.GasPriceWei,
		GasUnits:       cfg.GasUnits,
		GasToQuoteRate: cfg.GasToQuoteRate,
	}

	ag = agent.New(cfg.UserID, cfg, fees, agent.Deps{
		Source:     src,
		Gate:       gate,
		Executor:   exec,
		Accounting: acc,
		Store:      st,
		BalanceFn: func(ctx context.Context) int64 {
			balance, err := venueA.Balance(ctx)
			if err != nil {
				s.logger.Warn("balance lookup failed", "user_id", cfg.UserID, "err", err)
				return 0
			}
			return balance
		},
	}, s.logger)

	feedCancel := s.runFeed(feed)

	s.agents[cfg.UserID] = &managedAgent{agent: ag, store: st, feedCancel: feedCancel}
	return nil
}

// runFeed starts venue B's quote feed in the background, tied to the
// returned cancel func rather than any single agent start/stop cycle,
// so reconnects survive an agent pause and stop only on Remove/StopAll.
func (s *Supervisor) runFeed(feed *venue.QuoteFeed) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("quote feed stopped", "err", err)
		}
	}()
	return cancel
}

// ResumeAll re-enters the fill poller for every managed user's
// non-terminal positions left over from a prior run. Call once at
// startup after every user has been Created, before any Start.
func (s *Supervisor) ResumeAll(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.agents {
		m.agent.ResumePositions(ctx)
	}
}

// Start begins a previously created user's agent loop.
func (s *Supervisor) Start(ctx context.Context, userID string) error {
	s.mu.RLock()
	m, ok := s.agents[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no agent for user %s", userID)
	}
	m.agent.Start(ctx)
	return nil
}

// Stop gracefully stops a user's agent loop, waiting for any in-flight
// execution's own cancellation/unwind handling to settle.
func (s *Supervisor) Stop(userID string) error {
	s.mu.RLock()
	m, ok := s.agents[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no agent for user %s", userID)
	}
	m.agent.Stop()
	return nil
}

// Remove stops (if running) and forgets a user's agent, releasing its
// store handle. The user's persisted position history on disk is left
// intact.
func (s *Supervisor) Remove(userID string) error {
	s.mu.Lock()
	m, ok := s.agents[userID]
	if ok {
		delete(s.agents, userID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no agent for user %s", userID)
	}
	m.agent.Stop()
	m.feedCancel()
	return m.store.Close()
}

// Status returns a point-in-time snapshot of one user's agent state.
func (s *Supervisor) Status(userID string) (agent.State, error) {
	s.mu.RLock()
	m, ok := s.agents[userID]
	s.mu.RUnlock()
	if !ok {
		return agent.State{}, fmt.Errorf("no agent for user %s", userID)
	}
	return m.agent.Snapshot(), nil
}

// List returns every managed user's current state.
func (s *Supervisor) List() []agent.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.State, 0, len(s.agents))
	for _, m := range s.agents {
		out = append(out, m.agent.Snapshot())
	}
	return out
}

// ExportAudit writes every managed user's current positions to a
// human-diffable YAML snapshot under dataDir/<userId>/positions.yaml.
// Best-effort: a failure for one user is logged and does not stop the
// export for the rest.
func (s *Supervisor) ExportAudit() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for userID, m := range s.agents {
		path := filepath.Join(s.dataDir, userID, "positions.yaml")
		if err := m.store.ExportYAML(path); err != nil {
			s.logger.Warn("audit export failed", "user_id", userID, "err", err)
		}
	}
}

// StopAll stops every running agent, used on process shutdown.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	agents := make([]*managedAgent, 0, len(s.agents))
	for _, m := range s.agents {
		agents = append(agents, m)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, m := range agents {
		wg.Add(1)
		go func(m *managedAgent) {
			defer wg.Done()
			m.agent.Stop()
			m.feedCancel()
			m.store.Close()
		}(m)
	}
	wg.Wait()
}
