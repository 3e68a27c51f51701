package resolver

import (
	"context"
	"net/url"
	"strings"

	"sweeper/internal/falcon"
)

// Lookup finds one record by key within a single tenant session. The set of
// implementations is closed: UserLookup and DeviceLookup.
type Lookup interface {
	Kind() Kind
	// lookup returns the record fields, or nil when the tenant holds no match,
	// together with the number of identifiers the index query returned.
	lookup(ctx context.Context, s falcon.Session, key string) (map[string]any, int, error)
}

// UserLookup finds a console user by email.
type UserLookup struct{}

// DeviceLookup finds a host by hostname.
type DeviceLookup struct{}

var (
	_ Lookup = UserLookup{}
	_ Lookup = DeviceLookup{}
)

func (UserLookup) Kind() Kind { return KindUser }

func (UserLookup) lookup(ctx context.Context, s falcon.Session, email string) (map[string]any, int, error) {
	ids, err := queryIDs(ctx, s, falcon.RetrieveUserUUID, url.Values{"uid": {email}})
	if err != nil || len(ids) == 0 {
		return nil, 0, err
	}
	fields, err := fetchFirst(ctx, s, falcon.RetrieveUser, ids[0])
	return fields, len(ids), err
}

func (DeviceLookup) Kind() Kind { return KindDevice }

func (DeviceLookup) lookup(ctx context.Context, s falcon.Session, hostname string) (map[string]any, int, error) {
	ids, err := queryIDs(ctx, s, falcon.QueryDevicesByFilter, url.Values{"filter": {HostnameFilter(hostname)}})
	if err != nil || len(ids) == 0 {
		return nil, 0, err
	}
	fields, err := fetchFirst(ctx, s, falcon.GetDeviceDetails, ids[0])
	return fields, len(ids), err
}

// HostnameFilter builds the FQL expression matching one hostname.
func HostnameFilter(hostname string) string {
	return "hostname:'" + strings.ReplaceAll(hostname, "'", `\'`) + "'"
}

// queryIDs runs an index query. Empty resources mean no match whatever the
// status code.
func queryIDs(ctx context.Context, s falcon.Session, op falcon.Operation, q url.Values) ([]string, error) {
	resp, err := s.Invoke(ctx, op, falcon.Params{Query: q})
	if err != nil {
		return nil, err
	}
	return resp.IDs()
}

func fetchFirst(ctx context.Context, s falcon.Session, op falcon.Operation, id string) (map[string]any, error) {
	resp, err := s.Invoke(ctx, op, falcon.Params{Query: url.Values{"ids": {id}}})
	if err != nil {
		return nil, err
	}
	entities, err := resp.Entities()
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}
