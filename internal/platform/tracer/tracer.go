// Package tracer provides a lightweight tracing abstraction for the sweeper.
//
// The registry and resolver emit spans through the Tracer interface rather than
// the OpenTelemetry API directly, so tests can run with NoopTracer and the CLI
// can hand in an OTel-backed implementation.
//
// Implementations:
//   - NoopTracer: for tests
//   - OTelTracer: OpenTelemetry adapter
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording any error that occurred.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans for distributed tracing.
type Tracer interface {
	// Start creates a new span with the given name and attributes.
	// The returned context carries the span for child operations.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanResolverFind,
	//       tracer.String(tracer.AttrKeyHash, tracer.HashKey(email)),
	//   )
	//   defer func() { span.End(err) }()
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashKey returns a short SHA-256 digest of a lookup key (email or hostname)
// so traces can be correlated without carrying the key itself. Keys are
// lowercased first; Falcon matches both kinds case-insensitively.
func HashKey(key string) string {
	if key == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(key)))
	return hex.EncodeToString(hash[:8])
}

// Span names.
const (
	SpanTenantLogin        = "tenant.login"
	SpanTenantAuthenticate = "tenant.authenticate"
	SpanResolverFind       = "resolver.find"
	SpanResolverLookup     = "resolver.lookup"
	SpanResolverAct        = "resolver.act"
)

// Attribute keys.
const (
	AttrTenantName      = "tenant.name"
	AttrTenantCID       = "tenant.cid"
	AttrConnectChildren = "tenant.connect_children"
	AttrSessionCount    = "tenant.session_count"
	AttrRecordKind      = "record.kind"
	AttrKeyHash         = "record.key_hash"
	AttrFound           = "record.found"
	AttrTenantsScanned  = "record.tenants_scanned"
	AttrStatusCode      = "http.status_code"
	AttrActed           = "action.succeeded"
)
