// Package tenant holds the session registry: one authenticated Falcon session
// per tenant, parent first, then children in discovery order.
package tenant

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"sweeper/internal/falcon"
	"sweeper/internal/platform/metrics"
	"sweeper/internal/platform/tracer"
	"sweeper/pkg/domain"
	dErrors "sweeper/pkg/domain-errors"
)

// SessionFactory builds an unauthenticated session for one tenant.
type SessionFactory func(Credentials) falcon.Session

// NewClientFactory returns a factory producing Falcon API clients that share
// cfg and opts.
func NewClientFactory(cfg falcon.Config, opts ...falcon.Option) SessionFactory {
	return func(c Credentials) falcon.Session {
		return falcon.NewClient(cfg, c.Auth(), opts...)
	}
}

// TenantSession is one registry entry. CID is empty for the parent.
type TenantSession struct {
	Session falcon.Session
	Name    string
	CID     domain.CID
}

type child struct {
	CID  string `json:"child_cid"`
	Name string `json:"name"`
}

// Registry owns the authenticated sessions of a run. It is not safe for
// concurrent use.
type Registry struct {
	factory  SessionFactory
	creds    *Credentials
	sessions []TenantSession

	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

func NewRegistry(factory SessionFactory, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		logger:  zap.NewNop(),
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure stores the base credentials. It performs no network call; the
// last call wins.
func (r *Registry) Configure(clientID, clientSecret string, opts ...CredentialOption) {
	creds := Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		VerifyTLS:    true,
	}
	for _, opt := range opts {
		opt(&creds)
	}
	r.creds = &creds
}

// Login authenticates the parent and, when connectChildren is set, every
// child it manages. Authentication is serial and stops at the first rejected
// tenant. The previous session list is discarded up front, so a failed login
// leaves the registry empty.
func (r *Registry) Login(ctx context.Context, connectChildren bool, parentLabel string) (err error) {
	ctx, span := r.tracer.Start(ctx, tracer.SpanTenantLogin,
		tracer.Bool(tracer.AttrConnectChildren, connectChildren),
	)
	defer func() { span.End(err) }()

	r.sessions = nil
	r.setSessions(0)

	if r.creds == nil {
		return dErrors.New(dErrors.CodeValidation, "credentials must be configured before login")
	}
	base := *r.creds

	parent, err := r.authenticate(ctx, Derive(base, domain.ParentCID), parentLabel)
	if err != nil {
		return err
	}
	sessions := []TenantSession{parent}

	if connectChildren {
		children, err := r.discoverChildren(ctx, parent.Session)
		if err != nil {
			return err
		}
		for _, c := range children {
			cid, err := domain.ParseCID(c.CID)
			if err != nil {
				r.recordAuth(metrics.ResultRejected)
				r.logger.Error("child tenant listed with an invalid cid",
					zap.String("tenant", c.Name),
					zap.String("cid", c.CID),
				)
				return newInvalidChildError(c.Name, c.CID, err)
			}
			ts, err := r.authenticate(ctx, Derive(base, cid), c.Name)
			if err != nil {
				return err
			}
			sessions = append(sessions, ts)
		}
	}

	r.sessions = sessions
	r.setSessions(len(sessions))
	span.SetAttributes(tracer.Int(tracer.AttrSessionCount, len(sessions)))
	r.logger.Info("tenant login complete",
		zap.Int("sessions", len(sessions)),
		zap.Bool("connect_children", connectChildren),
	)
	return nil
}

// Sessions returns a copy of the ordered session list.
func (r *Registry) Sessions() []TenantSession {
	out := make([]TenantSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

func (r *Registry) authenticate(ctx context.Context, creds Credentials, name string) (ts TenantSession, err error) {
	ctx, span := r.tracer.Start(ctx, tracer.SpanTenantAuthenticate,
		tracer.String(tracer.AttrTenantName, name),
		tracer.String(tracer.AttrTenantCID, creds.MemberCID.String()),
	)
	defer func() { span.End(err) }()

	session := r.factory(creds)
	ok, err := session.Authenticate(ctx)
	if err != nil {
		r.recordAuth(metrics.ResultError)
		return TenantSession{}, err
	}
	if !ok {
		r.recordAuth(metrics.ResultRejected)
		r.logger.Error("tenant authentication rejected",
			zap.String("tenant", name),
			zap.String("cid", creds.MemberCID.String()),
		)
		return TenantSession{}, newAuthenticationError(name, creds.MemberCID)
	}

	r.recordAuth(metrics.ResultSuccess)
	r.logger.Debug("tenant authenticated",
		zap.String("tenant", name),
		zap.String("cid", creds.MemberCID.String()),
	)
	return TenantSession{Session: session, Name: name, CID: creds.MemberCID}, nil
}

// discoverChildren lists the parent's children with one queryChildren call
// and one batched getChildren call.
func (r *Registry) discoverChildren(ctx context.Context, parent falcon.Session) ([]child, error) {
	resp, err := parent.Invoke(ctx, falcon.QueryChildren, falcon.Params{})
	if err != nil {
		return nil, err
	}
	ids, err := resp.IDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		if !resp.Succeeded() {
			r.logger.Warn("child tenant query failed, continuing with parent only",
				zap.Int("status", resp.StatusCode),
			)
		}
		return nil, nil
	}

	resp, err = parent.Invoke(ctx, falcon.GetChildren, falcon.Params{
		Query: url.Values{"ids": ids},
	})
	if err != nil {
		return nil, err
	}
	var children []child
	if err := resp.DecodeResources(&children); err != nil {
		return nil, err
	}
	r.logger.Debug("child tenants discovered", zap.Int("children", len(children)))
	return children, nil
}

func (r *Registry) recordAuth(result string) {
	if r.metrics != nil {
		r.metrics.RecordAuth(result)
	}
}

func (r *Registry) setSessions(n int) {
	if r.metrics != nil {
		r.metrics.SetSessions(n)
	}
}
