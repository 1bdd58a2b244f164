// Package terminal manages interactive sessions, each owning one isolated
// environment for its whole lifetime.
package terminal

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/isolation"
	"github.com/jae464/vibe-judge/internal/language"
	"github.com/jae464/vibe-judge/internal/metrics"
)

const (
	destroyTimeout = 30 * time.Second

	LabelSession = "vibe-judge.session"
	LabelOwner   = "vibe-judge.owner"
)

// Options configures session environments and housekeeping.
type Options struct {
	Image              string
	Shell              string
	MemoryLimitMB      int
	CPUs               float64
	PidsLimit          int64
	CommandTimeout     time.Duration
	CompileTimeout     time.Duration
	IdleTimeout        time.Duration
	ReapInterval       time.Duration
	MaxSessions        int
	MaxSessionsPerUser int
	MaxOutputBytes     int
}

// Resolver maps a language hint to its profile.
type Resolver interface {
	Resolve(id string) (*language.Profile, error)
}

// Manager owns the session table. It is safe for concurrent use.
type Manager struct {
	rt        isolation.Runtime
	store     Store
	languages Resolver
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	// mu serialises cap checks with the reservations of in-progress creates.
	mu           sync.Mutex
	pending      map[string]int
	pendingTotal int
}

// NewManager creates a new Manager.
func NewManager(rt isolation.Runtime, store Store, languages Resolver, opts Options, logger *zap.Logger) *Manager {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	if opts.CompileTimeout <= 0 {
		opts.CompileTimeout = 30 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = isolation.DefaultMaxOutputBytes
	}
	return &Manager{
		rt:        rt,
		store:     store,
		languages: languages,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[string]int),
	}
}

// SetClock overrides time.Now.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateSession starts a new environment for ownerID. When languageHint
// resolves, the session uses that language's image.
func (m *Manager) CreateSession(ctx context.Context, ownerID, languageHint string) (*domain.Session, error) {
	if err := m.reserve(ownerID); err != nil {
		return nil, err
	}
	defer m.release(ownerID)

	image := m.opts.Image
	var lang string
	if languageHint != "" && m.languages != nil {
		if p, err := m.languages.Resolve(languageHint); err == nil {
			image = p.Image
			lang = p.ID
		} else {
			m.logger.Debug("Unknown language hint, using default image", zap.String("language", languageHint))
		}
	}

	id := uuid.NewString()
	env, err := m.rt.Create(ctx, isolation.Spec{
		Image:           image,
		MemoryLimitMB:   m.opts.MemoryLimitMB,
		CPUs:            m.opts.CPUs,
		PidsLimit:       m.opts.PidsLimit,
		NetworkDisabled: true,
		WorkDir:         isolation.DefaultWorkDir,
		Labels: map[string]string{
			isolation.LabelRole: "terminal",
			LabelSession:        id,
			LabelOwner:          ownerID,
		},
	})
	if err != nil {
		metrics.SandboxFailures.WithLabelValues("session_create").Inc()
		return nil, fmt.Errorf("%w: create session: %v", domain.ErrEnvironmentSetup, err)
	}

	now := m.now()
	s := domain.Session{
		ID:             id,
		OwnerID:        ownerID,
		EnvironmentID:  env.ID,
		Language:       lang,
		Image:          image,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.mu.Lock()
	m.store.Put(newHandle(s, env))
	m.mu.Unlock()

	metrics.SessionsActive.Inc()
	metrics.EnvironmentsActive.WithLabelValues("terminal").Inc()
	m.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("owner_id", ownerID),
		zap.String("environment_id", env.ID),
		zap.String("image", image),
	)
	return &s, nil
}

func (m *Manager) reserve(ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.MaxSessions > 0 && m.store.Count("")+m.pendingTotal >= m.opts.MaxSessions {
		return fmt.Errorf("%w: %d sessions open", domain.ErrSessionLimitReached, m.opts.MaxSessions)
	}
	if m.opts.MaxSessionsPerUser > 0 && m.store.Count(ownerID)+m.pending[ownerID] >= m.opts.MaxSessionsPerUser {
		return fmt.Errorf("%w: user %s has %d sessions", domain.ErrSessionLimitReached, ownerID, m.opts.MaxSessionsPerUser)
	}
	m.pending[ownerID]++
	m.pendingTotal++
	return nil
}

func (m *Manager) release(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingTotal--
	if m.pending[ownerID]--; m.pending[ownerID] <= 0 {
		delete(m.pending, ownerID)
	}
}

// GetSession returns the session with id.
func (m *Manager) GetSession(id string) (*domain.Session, error) {
	h, ok := m.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	s := h.Session()
	return &s, nil
}

// ListSessions returns the sessions of ownerID, or every session if ownerID is empty.
func (m *Manager) ListSessions(ownerID string) []domain.Session {
	var out []domain.Session
	for _, h := range m.store.List() {
		s := h.Session()
		if ownerID == "" || s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out
}

// acquire looks up a session and marks a command in flight. Callers must call
// the returned done func.
func (m *Manager) acquire(id string) (*Handle, func(), error) {
	h, ok := m.store.Get(id)
	if !ok || !h.begin(m.now()) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return h, func() { h.end(m.now()) }, nil
}

// Execute runs command through the session shell, bounded by the command timeout.
func (m *Manager) Execute(ctx context.Context, id, command string) (*domain.CommandResult, error) {
	h, done, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := m.rt.Exec(ctx, h.Env, isolation.ExecRequest{
		Cmd:            []string{m.opts.Shell, "-c", command},
		Timeout:        m.opts.CommandTimeout,
		MaxOutputBytes: m.opts.MaxOutputBytes,
	})
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("execute in session %s: %w", id, err)
	}

	out := &domain.CommandResult{
		SessionID:  id,
		Command:    command,
		Output:     res.Stdout,
		Error:      res.Stderr,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.TimedOut {
		out.Error = fmt.Sprintf("command timed out after %s", m.opts.CommandTimeout)
	}
	metrics.CommandsTotal.WithLabelValues(commandOutcome(res)).Inc()
	return out, nil
}

func commandOutcome(res *isolation.ExecResult) string {
	switch {
	case res.TimedOut:
		return "timeout"
	case res.ExitCode != 0:
		return "error"
	}
	return "ok"
}

// CreateFile writes content to filename inside the session workspace.
func (m *Manager) CreateFile(ctx context.Context, id, filename string, content []byte) error {
	h, done, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer done()
	return isolation.WriteFile(ctx, m.rt, h.Env, filename, content)
}

// ReadFile returns the content of filename inside the session workspace.
func (m *Manager) ReadFile(ctx context.Context, id, filename string) ([]byte, error) {
	h, done, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer done()
	return isolation.ReadFile(ctx, m.rt, h.Env, filename, m.opts.MaxOutputBytes)
}

// RunCode writes code to filename, compiles it if the language needs it and
// runs it inside the session. An empty filename uses the language default.
func (m *Manager) RunCode(ctx context.Context, id, lang, filename, code string) (*domain.CommandResult, error) {
	if m.languages == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedLanguage, lang)
	}
	base, err := m.languages.Resolve(lang)
	if err != nil {
		return nil, err
	}
	p := *base
	if filename != "" {
		if path.Base(filename) != filename || filename == "." || filename == ".." {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidFilename, filename)
		}
		p.SourceFile = filename
	}

	h, done, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := isolation.WriteFile(ctx, m.rt, h.Env, p.SourceFile, []byte(code)); err != nil {
		return nil, err
	}

	start := m.now()
	result := &domain.CommandResult{SessionID: id}

	if argv, ok, err := p.CompileCommand(); err != nil {
		return nil, err
	} else if ok {
		result.Command = strings.Join(argv, " ")
		res, err := m.rt.Exec(ctx, h.Env, isolation.ExecRequest{
			Cmd:            argv,
			Timeout:        m.opts.CompileTimeout,
			MaxOutputBytes: m.opts.MaxOutputBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("compile in session %s: %w", id, err)
		}
		if res.TimedOut || res.ExitCode != 0 {
			result.Output = res.Stdout
			result.Error = res.Stderr
			result.ExitCode = res.ExitCode
			result.TimedOut = res.TimedOut
			result.DurationMs = m.now().Sub(start).Milliseconds()
			metrics.CommandsTotal.WithLabelValues(commandOutcome(res)).Inc()
			return result, nil
		}
	}

	argv, err := p.RunCommand()
	if err != nil {
		return nil, err
	}
	res, err := m.rt.Exec(ctx, h.Env, isolation.ExecRequest{
		Cmd:            argv,
		Timeout:        m.opts.CommandTimeout,
		MaxOutputBytes: m.opts.MaxOutputBytes,
	})
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("run in session %s: %w", id, err)
	}

	result.Command = strings.Join(argv, " ")
	result.Output = res.Stdout
	result.Error = res.Stderr
	result.ExitCode = res.ExitCode
	result.TimedOut = res.TimedOut
	result.DurationMs = m.now().Sub(start).Milliseconds()
	metrics.CommandsTotal.WithLabelValues(commandOutcome(res)).Inc()
	return result, nil
}

// DestroySession stops and removes the session environment.
func (m *Manager) DestroySession(ctx context.Context, id string) error {
	h, ok := m.store.Get(id)
	if !ok || !h.claim() {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return m.teardown(ctx, h)
}

// DestroyUserSessions destroys every session of ownerID in parallel.
func (m *Manager) DestroyUserSessions(ctx context.Context, ownerID string) (int, error) {
	return m.destroyWhere(ctx, func(s domain.Session) bool { return s.OwnerID == ownerID })
}

// Shutdown destroys every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	n, err := m.destroyWhere(ctx, func(domain.Session) bool { return true })
	m.logger.Info("Terminal sessions shut down", zap.Int("destroyed", n))
	return err
}

func (m *Manager) destroyWhere(ctx context.Context, match func(domain.Session) bool) (int, error) {
	var claimed []*Handle
	for _, h := range m.store.List() {
		if match(h.Session()) && h.claim() {
			claimed = append(claimed, h)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, h := range claimed {
		g.Go(func() error { return m.teardown(gctx, h) })
	}
	return len(claimed), g.Wait()
}

// teardown removes a claimed handle from the table and destroys its environment.
func (m *Manager) teardown(ctx context.Context, h *Handle) error {
	s := h.Session()
	m.store.Delete(s.ID)
	metrics.SessionsActive.Dec()
	metrics.EnvironmentsActive.WithLabelValues("terminal").Dec()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()
	if err := m.rt.Destroy(dctx, h.Env); err != nil {
		metrics.SandboxFailures.WithLabelValues("session_destroy").Inc()
		m.logger.Error("Failed to destroy session environment",
			zap.String("session_id", s.ID),
			zap.String("environment_id", h.Env.ID),
			zap.Error(err),
		)
		return fmt.Errorf("destroy session %s: %w", s.ID, err)
	}
	m.logger.Info("Session destroyed", zap.String("session_id", s.ID), zap.String("owner_id", s.OwnerID))
	return nil
}

// ReapIdleSessions destroys sessions whose last activity is older than
// threshold. Sessions with a command in flight are skipped.
func (m *Manager) ReapIdleSessions(ctx context.Context, threshold time.Duration) int {
	cutoff := m.now().Add(-threshold)
	reaped := 0
	for _, h := range m.store.List() {
		if !h.claimIdle(cutoff) {
			continue
		}
		// teardown logs its own failures; the session is gone from the table either way.
		_ = m.teardown(ctx, h)
		reaped++
		metrics.SessionsReaped.Inc()
	}
	if reaped > 0 {
		m.logger.Info("Reaped idle sessions", zap.Int("count", reaped))
	}
	return reaped
}

// Run reaps idle sessions every ReapInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.ReapInterval)
	defer ticker.Stop()

	m.logger.Info("Session reaper started",
		zap.Duration("interval", m.opts.ReapInterval),
		zap.Duration("idle_timeout", m.opts.IdleTimeout),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdleSessions(ctx, m.opts.IdleTimeout)
		}
	}
}

// SystemInfo describes the isolation host and the open sessions.
func (m *Manager) SystemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	info := &domain.SystemInfo{Runtime: m.rt.Name()}
	if insp, ok := m.rt.(isolation.Inspector); ok {
		got, err := insp.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("system info: %w", err)
		}
		info = got
	}
	info.ActiveSessions = m.store.Count("")
	return info, nil
}
