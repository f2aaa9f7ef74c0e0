package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultPollAttempts       = 90
	DefaultPollDelay          = 2 * time.Second
	DefaultPollAttemptTimeout = 5 * time.Second
	DefaultReadinessCommand   = "echo ready"
)

// ExecFunc runs one command against a specific sandbox.
type ExecFunc func(ctx context.Context, command string, timeout time.Duration) (*ExecOutput, error)

// Poller waits for a freshly created sandbox to accept commands by running a
// trivial command until it exits 0. Zero fields take the defaults above; a
// negative Delay disables the pause between attempts.
type Poller struct {
	Attempts       int
	Delay          time.Duration
	AttemptTimeout time.Duration
	Command        string

	Logger *slog.Logger

	// OnAttempt, if set, is called after every attempt with its outcome.
	OnAttempt func(attempt int, err error)
}

func (p Poller) withDefaults() Poller {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPollAttempts
	}
	switch {
	case p.Delay == 0:
		p.Delay = DefaultPollDelay
	case p.Delay < 0:
		p.Delay = 0
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultPollAttemptTimeout
	}
	if p.Command == "" {
		p.Command = DefaultReadinessCommand
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// WaitReady polls sandbox id through exec. Attempts never overlap. It returns
// nil on the first attempt that exits 0, a *ProvisioningTimeoutError once the
// attempt budget is spent, or ctx's error if ctx ends first.
func (p Poller) WaitReady(ctx context.Context, id string, exec ExecFunc) error {
	p = p.withDefaults()
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = p.attempt(ctx, exec)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, lastErr)
		}
		if lastErr == nil {
			p.Logger.InfoContext(ctx, "sandbox ready",
				slog.String("sandbox_id", id),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", time.Since(start)),
			)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for sandbox %s: %w", id, err)
		}

		p.Logger.WarnContext(ctx, "sandbox not ready, retrying",
			slog.String("sandbox_id", id),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.Attempts),
			slog.Any("error", lastErr),
		)

		if attempt == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for sandbox %s: %w", id, ctx.Err())
		case <-time.After(p.Delay):
		}
	}

	return &ProvisioningTimeoutError{
		SandboxID: id,
		Attempts:  p.Attempts,
		Elapsed:   time.Since(start),
		LastErr:   lastErr,
	}
}

func (p Poller) attempt(ctx context.Context, exec ExecFunc) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	out, err := exec(attemptCtx, p.Command, p.AttemptTimeout)
	if err != nil {
		return err
	}
	if out == nil {
		return errors.New("empty readiness response")
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("readiness command exited with %d", out.ExitCode)
	}
	return nil
}
