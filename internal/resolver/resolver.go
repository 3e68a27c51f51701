// Package resolver finds users and devices across every tenant session and
// routes actions back to the tenant that owns them.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"sweeper/internal/platform/metrics"
	"sweeper/internal/platform/tracer"
	"sweeper/internal/tenant"
	dErrors "sweeper/pkg/domain-errors"
)

// SessionSource supplies the ordered tenant sessions. *tenant.Registry
// implements it.
type SessionSource interface {
	Sessions() []tenant.TenantSession
}

// Resolver dispatches lookups and actions over a SessionSource. It keeps no
// state between calls.
type Resolver struct {
	source SessionSource

	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(r *Resolver) {
		if t != nil {
			r.tracer = t
		}
	}
}

func New(source SessionSource, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		logger: zap.NewNop(),
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Find queries each session in order and returns the first match, tagged with
// the tenant that produced it. Sessions after the match are not queried.
// found is false only after every session has been queried once. A transport
// error stops the scan and is returned unchanged.
func (r *Resolver) Find(ctx context.Context, key string, lookup Lookup) (rec *Record, found bool, err error) {
	if lookup == nil {
		return nil, false, dErrors.New(dErrors.CodeInvalidInput, "lookup must not be nil")
	}
	kind := lookup.Kind()
	ctx, span := r.tracer.Start(ctx, tracer.SpanResolverFind,
		tracer.String(tracer.AttrRecordKind, string(kind)),
		tracer.String(tracer.AttrKeyHash, tracer.HashKey(key)),
	)
	defer func() { span.End(err) }()

	scanned := 0
	for _, ts := range r.source.Sessions() {
		scanned++
		fields, matches, err := r.lookupIn(ctx, ts, key, lookup)
		if err != nil {
			r.recordLookup(kind, metrics.ResultError, scanned)
			return nil, false, err
		}
		if fields == nil {
			continue
		}
		if matches > 1 {
			r.logger.Warn("several records share a key, using the first",
				zap.String("kind", string(kind)),
				zap.String("key", key),
				zap.String("tenant", ts.Name),
				zap.Int("matches", matches),
			)
		}

		span.SetAttributes(
			tracer.Bool(tracer.AttrFound, true),
			tracer.Int(tracer.AttrTenantsScanned, scanned),
			tracer.String(tracer.AttrTenantName, ts.Name),
		)
		r.recordLookup(kind, metrics.ResultFound, scanned)
		return &Record{
			Kind:   kind,
			Key:    key,
			Fields: fields,
			Tenant: &TenantTag{Name: ts.Name, CID: ts.CID},
		}, true, nil
	}

	span.SetAttributes(
		tracer.Bool(tracer.AttrFound, false),
		tracer.Int(tracer.AttrTenantsScanned, scanned),
	)
	r.recordLookup(kind, metrics.ResultNotFound, scanned)
	return nil, false, nil
}

func (r *Resolver) lookupIn(ctx context.Context, ts tenant.TenantSession, key string, lookup Lookup) (fields map[string]any, matches int, err error) {
	ctx, span := r.tracer.Start(ctx, tracer.SpanResolverLookup,
		tracer.String(tracer.AttrTenantName, ts.Name),
		tracer.String(tracer.AttrTenantCID, ts.CID.String()),
	)
	defer func() { span.End(err) }()

	return lookup.lookup(ctx, ts.Session, key)
}

// Act issues action against the session whose CID equals the record's tenant
// tag, the parent included. It reports false without error when no session
// matches, e.g. after a new login replaced the session set. A record without
// a tenant tag, of the wrong kind, or without the identifier the action needs
// is rejected with an invalid record error.
func (r *Resolver) Act(ctx context.Context, rec *Record, action Action) (acted bool, err error) {
	if rec == nil || rec.Tenant == nil {
		return false, dErrors.New(dErrors.CodeInvalidRecord, "record has no tenant tag")
	}
	if action == nil {
		return false, dErrors.New(dErrors.CodeInvalidRecord, "no action given for record")
	}
	kind := action.Kind()
	if rec.Kind != kind {
		return false, dErrors.New(dErrors.CodeInvalidRecord,
			"cannot apply a "+string(kind)+" action to a "+string(rec.Kind)+" record")
	}
	op, params, err := action.request(rec)
	if err != nil {
		return false, err
	}

	ctx, span := r.tracer.Start(ctx, tracer.SpanResolverAct,
		tracer.String(tracer.AttrRecordKind, string(kind)),
		tracer.String(tracer.AttrTenantName, rec.Tenant.Name),
		tracer.String(tracer.AttrTenantCID, rec.Tenant.CID.String()),
	)
	defer func() { span.End(err) }()

	for _, ts := range r.source.Sessions() {
		if ts.CID != rec.Tenant.CID {
			continue
		}
		resp, err := ts.Session.Invoke(ctx, op, params)
		if err != nil {
			r.recordAction(kind, metrics.ResultError)
			return false, err
		}
		acted = action.succeeded(resp.StatusCode)
		span.SetAttributes(
			tracer.Int(tracer.AttrStatusCode, resp.StatusCode),
			tracer.Bool(tracer.AttrActed, acted),
		)
		if acted {
			r.recordAction(kind, metrics.ResultSuccess)
		} else {
			r.recordAction(kind, metrics.ResultFailed)
			r.logger.Warn("action not applied",
				zap.String("kind", string(kind)),
				zap.String("tenant", ts.Name),
				zap.Int("status", resp.StatusCode),
			)
		}
		return acted, nil
	}

	r.recordAction(kind, metrics.ResultStale)
	r.logger.Warn("no session for record tenant",
		zap.String("kind", string(kind)),
		zap.String("tenant", rec.Tenant.Name),
		zap.String("cid", rec.Tenant.CID.String()),
	)
	span.SetAttributes(tracer.Bool(tracer.AttrActed, false))
	return false, nil
}

func (r *Resolver) recordLookup(kind Kind, result string, scanned int) {
	if r.metrics != nil {
		r.metrics.RecordLookup(string(kind), result, scanned)
	}
}

func (r *Resolver) recordAction(kind Kind, result string) {
	if r.metrics != nil {
		r.metrics.RecordAction(string(kind), result)
	}
}
