// Package purge runs a bulk sweep: every key is resolved across tenants and,
// in delete mode, the match is removed from the tenant that owns it. Each key
// yields exactly one status line.
package purge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sweeper/internal/resolver"
	"sweeper/pkg/validation"
)

// Mode selects whether matches are only reported or also removed.
type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModeDelete   Mode = "delete"
)

// ParseMode validates an --action value.
func ParseMode(s string) (Mode, error) {
	if err := validation.Var(s, "required,oneof=simulate delete", "action"); err != nil {
		return "", err
	}
	return Mode(s), nil
}

// Status tags lead every line written by a sweep.
const (
	StatusSimulate = "SIMULATE"
	StatusDelete   = "DELETE"
	StatusDeleted  = "DELETED"
	StatusError    = "ERROR"
	StatusNotFound = "NOTFOUND"
)

// ErrNotApplied marks a match whose removal the API did not confirm.
var ErrNotApplied = errors.New("action not applied")

// Resolver is the part of *resolver.Resolver a sweep needs.
type Resolver interface {
	Find(ctx context.Context, key string, lookup resolver.Lookup) (*resolver.Record, bool, error)
	Act(ctx context.Context, rec *resolver.Record, action resolver.Action) (bool, error)
}

// Summary counts the outcome of a sweep.
type Summary struct {
	Processed int
	Simulated int
	Deleted   int
	NotFound  int
	Failed    int

	// Err joins every per-key failure.
	Err error
}

func (s *Summary) fail(err error) {
	s.Failed++
	s.Err = multierr.Append(s.Err, err)
}

// Sweeper writes one status line per key to its output.
type Sweeper struct {
	resolver Resolver
	mode     Mode
	out      io.Writer
	logger   *zap.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(r Resolver, mode Mode, out io.Writer, opts ...Option) *Sweeper {
	s := &Sweeper{
		resolver: r,
		mode:     mode,
		out:      out,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Users resolves each email and, in delete mode, deletes the user from its
// tenant. Failures are reported inline and the sweep moves on.
func (s *Sweeper) Users(ctx context.Context, emails []string) Summary {
	var sum Summary
	for _, email := range emails {
		sum.Processed++
		if err := validation.Var(email, "required,email", "email"); err != nil {
			s.printf("%s - %s - %v", StatusError, email, err)
			sum.fail(fmt.Errorf("%s: %w", email, err))
			continue
		}

		user, found, err := s.resolver.Find(ctx, email, resolver.UserLookup{})
		if err != nil {
			s.printf("%s - %s - lookup failed: %v", StatusError, email, err)
			s.logger.Error("user lookup failed", zap.String("email", email), zap.Error(err))
			sum.fail(fmt.Errorf("%s: %w", email, err))
			continue
		}
		if !found {
			s.printf("%s - %s - not found in any tenant", StatusNotFound, email)
			sum.NotFound++
			continue
		}

		uuid, tenantName := user.ID(), user.TenantName()
		if s.mode != ModeDelete {
			s.printf("%s - %s - simulated delete of uuid %s, tenant %s", StatusSimulate, email, uuid, tenantName)
			sum.Simulated++
			continue
		}

		deleted, err := s.resolver.Act(ctx, user, resolver.DeleteUser{})
		if err != nil || !deleted {
			if err == nil {
				err = ErrNotApplied
			}
			s.printf("%s - %s found with uuid %s in tenant %s but delete failed", StatusError, email, uuid, tenantName)
			s.logger.Error("user delete failed",
				zap.String("email", email),
				zap.String("tenant", tenantName),
				zap.Error(err),
			)
			sum.fail(fmt.Errorf("%s: %w", email, err))
			continue
		}
		s.printf("%s - %s uuid %s, tenant %s", StatusDelete, email, uuid, tenantName)
		s.logger.Info("user deleted", zap.String("email", email), zap.String("tenant", tenantName))
		sum.Deleted++
	}
	return sum
}

// Hosts resolves each hostname and, in delete mode, hides the device in its
// tenant.
func (s *Sweeper) Hosts(ctx context.Context, hosts []string) Summary {
	var sum Summary
	for _, host := range hosts {
		sum.Processed++
		if err := validation.Var(host, "required,max=255", "hostname"); err != nil {
			s.printf("%s - %s - %v", StatusError, host, err)
			sum.fail(fmt.Errorf("%s: %w", host, err))
			continue
		}

		dev, found, err := s.resolver.Find(ctx, host, resolver.DeviceLookup{})
		if err != nil {
			s.printf("%s - %s - lookup failed: %v", StatusError, host, err)
			s.logger.Error("device lookup failed", zap.String("hostname", host), zap.Error(err))
			sum.fail(fmt.Errorf("%s: %w", host, err))
			continue
		}
		if !found {
			s.printf("%s - %s", StatusNotFound, host)
			sum.NotFound++
			continue
		}

		hostname := dev.String("hostname")
		if hostname == "" {
			hostname = host
		}
		if s.mode != ModeDelete {
			s.printf("%s - %s - %s", StatusSimulate, hostname, deviceDetails(dev))
			sum.Simulated++
			continue
		}

		hidden, err := s.resolver.Act(ctx, dev, resolver.HideDevice{})
		if err != nil || !hidden {
			if err == nil {
				err = ErrNotApplied
			}
			s.printf("%s - failed to delete %s", StatusError, hostname)
			s.logger.Error("device hide failed",
				zap.String("hostname", hostname),
				zap.String("tenant", dev.TenantName()),
				zap.Error(err),
			)
			sum.fail(fmt.Errorf("%s: %w", host, err))
			continue
		}
		s.printf("%s - %s %s", StatusDeleted, hostname, deviceDetails(dev))
		s.logger.Info("device hidden", zap.String("hostname", hostname), zap.String("tenant", dev.TenantName()))
		sum.Deleted++
	}
	return sum
}

func deviceDetails(dev *resolver.Record) string {
	return fmt.Sprintf("AID:%s AgentVer:%s OS:%s@%s last_login_user:%s",
		dev.String("device_id"),
		dev.String("agent_version"),
		dev.String("os_version"),
		dev.String("os_build"),
		dev.String("last_login_user"),
	)
}

func (s *Sweeper) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
