// Package falcon is the transport to the CrowdStrike Falcon management API.
//
// A Session is scoped to exactly one tenant: the parent when it is created
// without a member CID, or a child otherwise. Invoke never turns an HTTP status
// into an error; callers interpret StatusCode and the resources themselves.
// Errors are reserved for round-trips that produced no usable response.
package falcon

import (
	"context"
	"encoding/json"
	"net/url"
)

//go:generate mockgen -source=session.go -destination=mocks/session_mock.go -package=mocks Session

// Session is an authenticated handle scoped to one tenant.
type Session interface {
	// Authenticate obtains a token for the session's tenant. It returns false
	// with a nil error when the API rejected the credentials.
	Authenticate(ctx context.Context) (bool, error)

	// Invoke performs one API operation and returns the decoded envelope.
	Invoke(ctx context.Context, op Operation, params Params) (*Response, error)
}

// Operation names one Falcon API operation, using the operation IDs from the
// Falcon OpenAPI specification.
type Operation string

const (
	QueryChildren        Operation = "queryChildren"
	GetChildren          Operation = "getChildren"
	RetrieveUserUUID     Operation = "RetrieveUserUUID"
	RetrieveUser         Operation = "RetrieveUser"
	DeleteUser           Operation = "DeleteUser"
	QueryDevicesByFilter Operation = "QueryDevicesByFilter"
	GetDeviceDetails     Operation = "GetDeviceDetails"
	PerformActionV2      Operation = "PerformActionV2"
)

// Params carries the query string and optional JSON body of a request.
type Params struct {
	Query url.Values
	Body  any
}

// Response is the decoded Falcon envelope together with the HTTP status.
// Operation names the call that produced it.
type Response struct {
	Operation  Operation
	StatusCode int
	Body       Body
}

// Body is the standard Falcon response envelope.
type Body struct {
	Meta      Meta            `json:"meta"`
	Resources json.RawMessage `json:"resources"`
	Errors    []APIError      `json:"errors"`
}

type Meta struct {
	QueryTime float64 `json:"query_time"`
	TraceID   string  `json:"trace_id"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// Succeeded reports whether the status code is in the 2xx range.
func (r *Response) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// DecodeResources unmarshals the resources array into v. A missing or null
// array leaves v untouched.
func (r *Response) DecodeResources(v any) error {
	if len(r.Body.Resources) == 0 || string(r.Body.Resources) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Body.Resources, v); err != nil {
		return NewTransportError(ErrorBadData, r.Operation, "unexpected resources shape", err)
	}
	return nil
}

// IDs decodes a resources array of identifiers, as returned by every
// "queries" endpoint.
func (r *Response) IDs() ([]string, error) {
	var ids []string
	if err := r.DecodeResources(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Entities decodes a resources array of objects into generic field maps.
func (r *Response) Entities() ([]map[string]any, error) {
	var entities []map[string]any
	if err := r.DecodeResources(&entities); err != nil {
		return nil, err
	}
	return entities, nil
}
