package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/curaious/uno-sandbox/pkg/sandbox/skills"
)

// DefaultCleanupTimeout bounds the delete call issued when a session closes.
const DefaultCleanupTimeout = 60 * time.Second

var tracer = otel.Tracer("Sandbox")

// State is the lifecycle state of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateProvisioning
	StateReady
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used by the session and its poller.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPoller replaces the readiness poller settings.
func WithPoller(p Poller) Option {
	return func(s *Session) { s.poller = p }
}

// WithSeed sets the local directory copied into the sandbox once it is ready.
func WithSeed(cfg SeedConfig) Option {
	return func(s *Session) { s.seed = cfg }
}

// WithExecTimeout sets the per-command timeout passed to the provider.
// Zero leaves the provider default.
func WithExecTimeout(d time.Duration) Option {
	return func(s *Session) { s.execTimeout = d }
}

// WithCleanupTimeout bounds the delete call issued on Close.
func WithCleanupTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.cleanupTimeout = d
		}
	}
}

// WithMetrics records lifecycle metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session owns one sandbox from creation to deletion.
type Session struct {
	id       string
	provider Provider
	logger   *slog.Logger
	poller   Poller
	seed     SeedConfig
	metrics  *Metrics

	execTimeout    time.Duration
	cleanupTimeout time.Duration

	mu         sync.Mutex
	state      State
	used       bool
	loop       *loop
	handle     *Handle
	cleanupErr error

	closing    atomic.Bool
	deleteOnce sync.Once
}

// NewSession returns a session that will host its sandbox on provider.
// Nothing is provisioned until Open.
func NewSession(provider Provider, opts ...Option) *Session {
	s := &Session{
		id:             uuid.NewString(),
		provider:       provider,
		logger:         slog.Default(),
		cleanupTimeout: DefaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(
		slog.String("session_id", s.id),
		slog.String("provider", provider.Name()),
	)
	return s
}

// ID returns the session correlation id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CleanupErr returns the error of the delete call, if it failed.
func (s *Session) CleanupErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupErr
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

type seedResult struct {
	files  []FileUpload
	skills []skills.Metadata
	err    error
}

// Open creates the sandbox, waits until it answers commands and seeds it.
// It can be called once. On any failure after the sandbox was created the
// sandbox is deleted before Open returns.
func (s *Session) Open(ctx context.Context) (*Backend, error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.used = true
	s.state = StateProvisioning
	s.loop = newLoop()
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Sandbox.Open", trace.WithAttributes(
		attribute.String("sandbox.session_id", s.id),
		attribute.String("sandbox.provider", s.provider.Name()),
	))
	defer span.End()

	start := time.Now()
	seeds := s.collectSeeds(ctx)

	h, err := s.create(ctx)
	if err != nil {
		s.setState(StateFailed)
		s.loop.stop()
		s.setState(StateTerminated)
		s.metrics.session(s.provider.Name(), "create_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("sandbox.id", h.ID))
	logger := s.logger.With(slog.String("sandbox_id", h.ID))

	if err := ctx.Err(); err != nil {
		s.fail(ctx, "cancelled")
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("open sandbox %s: %w", h.ID, err)
	}

	if err := s.waitReady(ctx, h); err != nil {
		outcome := "not_ready"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		s.fail(ctx, outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, "sandbox not ready")
		return nil, err
	}

	b := &Backend{s: s, h: h}

	var seed seedResult
	select {
	case seed = <-seeds:
	case <-ctx.Done():
	}
	s.uploadSeeds(ctx, b, seed)

	if err := ctx.Err(); err != nil {
		s.fail(ctx, "cancelled")
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("open sandbox %s: %w", h.ID, err)
	}

	s.setState(StateReady)
	s.metrics.session(s.provider.Name(), "ready")
	s.metrics.provisioned(s.provider.Name(), time.Since(start))
	logger.InfoContext(ctx, "sandbox session ready", slog.Duration("elapsed", time.Since(start)))
	return b, nil
}

// create runs Provider.Create on the loop. The wait is detached from ctx so a
// sandbox created while the caller gave up is still recorded and deleted.
func (s *Session) create(ctx context.Context) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "Sandbox.Create")
	defer span.End()

	h, err := submit(context.WithoutCancel(ctx), s.loop, func(context.Context) (*Handle, error) {
		return s.provider.Create(ctx)
	})
	if err == nil && h == nil {
		err = errors.New("provider returned no sandbox")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "unable to create sandbox", slog.Any("error", err))
		return nil, &ProvisioningTransportError{Provider: s.provider.Name(), Err: err}
	}

	if h.Provider == "" {
		h.Provider = s.provider.Name()
	}
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	s.metrics.created(s.provider.Name())
	span.SetAttributes(attribute.String("sandbox.id", h.ID))
	s.logger.InfoContext(ctx, "sandbox created", slog.String("sandbox_id", h.ID))
	return h, nil
}

func (s *Session) waitReady(ctx context.Context, h *Handle) error {
	ctx, span := tracer.Start(ctx, "Sandbox.WaitReady")
	defer span.End()

	p := s.poller
	if p.Logger == nil {
		p.Logger = s.logger
	}
	onAttempt := p.OnAttempt
	p.OnAttempt = func(attempt int, err error) {
		s.metrics.readiness(s.provider.Name(), err)
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
	}

	exec := func(ctx context.Context, command string, timeout time.Duration) (*ExecOutput, error) {
		return submit(ctx, s.loop, func(ctx context.Context) (*ExecOutput, error) {
			return s.provider.Exec(ctx, h, command, timeout)
		})
	}

	if err := p.WaitReady(ctx, h.ID, exec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// collectSeeds walks the seed directory on its own goroutine while the
// sandbox is provisioning.
func (s *Session) collectSeeds(ctx context.Context) <-chan seedResult {
	out := make(chan seedResult, 1)
	if s.seed.SourceDir == "" {
		out <- seedResult{}
		return out
	}
	go func() {
		files, err := CollectSeedFiles(ctx, s.seed, s.logger)
		if err != nil {
			out <- seedResult{err: err}
			return
		}
		maxSize := s.seed.MaxFileSize
		if maxSize <= 0 {
			maxSize = DefaultMaxSeedFileSize
		}
		list, err := skills.List(s.seed.SourceDir, maxSize)
		out <- seedResult{files: files, skills: list, err: err}
	}()
	return out
}

// uploadSeeds is best-effort: failures are logged and never fail the session.
func (s *Session) uploadSeeds(ctx context.Context, b *Backend, seed seedResult) {
	if seed.err != nil {
		s.logger.WarnContext(ctx, "unable to collect seed files", slog.Any("error", seed.err))
	}
	if len(seed.files) == 0 {
		return
	}

	ctx, span := tracer.Start(ctx, "Sandbox.Seed", trace.WithAttributes(
		attribute.Int("sandbox.seed.files", len(seed.files)),
	))
	defer span.End()

	results, err := b.upload(ctx, seed.files)
	if err != nil {
		s.logger.WarnContext(ctx, "unable to seed sandbox", slog.Any("error", err))
		return
	}
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
			s.logger.WarnContext(ctx, "unable to seed file",
				slog.String("path", r.Path),
				slog.String("error", string(r.Error)),
			)
		}
	}

	names := make([]string, 0, len(seed.skills))
	for _, sk := range seed.skills {
		names = append(names, sk.Name)
	}
	s.logger.InfoContext(ctx, "sandbox seeded",
		slog.String("dest", s.seed.DestDir),
		slog.Int("files", len(results)-failed),
		slog.Int("failed", failed),
		slog.Any("skills", names),
	)
}

// fail moves a provisioning session through Failed to Terminated, deleting the
// sandbox on the way.
func (s *Session) fail(ctx context.Context, outcome string) {
	s.setState(StateFailed)
	s.metrics.session(s.provider.Name(), outcome)
	s.terminate(ctx)
}

// Close deletes the sandbox, if one was created, and releases the session.
// It is safe to call more than once and from any goroutine; only the first
// call issues a delete. Close never returns the delete error: see CleanupErr.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.used = true
	s.mu.Unlock()
	s.terminate(ctx)
	return nil
}

func (s *Session) terminate(ctx context.Context) {
	s.closing.Store(true)
	s.deleteOnce.Do(func() {
		s.mu.Lock()
		h, l := s.handle, s.loop
		s.mu.Unlock()

		if h != nil {
			s.delete(ctx, l, h)
		}
		if l != nil {
			l.stop()
		}
		s.setState(StateTerminated)
	})
}

func (s *Session) delete(ctx context.Context, l *loop, h *Handle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Sandbox.Delete", trace.WithAttributes(
		attribute.String("sandbox.id", h.ID),
	))
	defer span.End()

	_, err := submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.provider.Delete(ctx, h)
	})
	s.metrics.deleted(s.provider.Name(), err)
	if err != nil {
		cerr := &CleanupError{SandboxID: h.ID, Err: err}
		s.mu.Lock()
		s.cleanupErr = cerr
		s.mu.Unlock()
		span.RecordError(cerr)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "unable to delete sandbox", slog.String("sandbox_id", h.ID), slog.Any("error", err))
		return
	}
	s.logger.InfoContext(ctx, "sandbox deleted", slog.String("sandbox_id", h.ID))
}

// WithSandbox opens a session on provider, runs fn with its backend and closes
// the session whatever fn does, panics included. It returns the provisioning
// error or fn's error, never the cleanup error.
func WithSandbox(ctx context.Context, provider Provider, fn func(ctx context.Context, b *Backend) error, opts ...Option) error {
	s := NewSession(provider, opts...)
	defer s.Close(ctx)

	b, err := s.Open(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, b)
}
