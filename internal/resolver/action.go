package resolver

import (
	"net/http"
	"net/url"

	"sweeper/internal/falcon"
	"sweeper/pkg/domain"
	dErrors "sweeper/pkg/domain-errors"
)

// Action is a mutating call routed to the tenant owning a record. The set of
// implementations is closed: DeleteUser and HideDevice.
type Action interface {
	Kind() Kind
	request(r *Record) (falcon.Operation, falcon.Params, error)
	succeeded(status int) bool
}

// DeleteUser removes a console user. Only a 200 answer counts as success.
type DeleteUser struct{}

// HideDevice hides a host from the console. Any 2xx answer counts as success.
type HideDevice struct{}

var (
	_ Action = DeleteUser{}
	_ Action = HideDevice{}
)

func (DeleteUser) Kind() Kind { return KindUser }

func (DeleteUser) request(r *Record) (falcon.Operation, falcon.Params, error) {
	id, err := domain.ParseUserUUID(r.ID())
	if err != nil {
		return "", falcon.Params{}, &dErrors.Error{
			Code:    dErrors.CodeInvalidRecord,
			Message: "user record has no usable uuid",
			Err:     err,
		}
	}
	return falcon.DeleteUser, falcon.Params{
		Query: url.Values{"user_uuid": {id.String()}},
	}, nil
}

func (DeleteUser) succeeded(status int) bool {
	return status == http.StatusOK
}

func (HideDevice) Kind() Kind { return KindDevice }

func (HideDevice) request(r *Record) (falcon.Operation, falcon.Params, error) {
	id := r.ID()
	if id == "" {
		return "", falcon.Params{}, dErrors.New(dErrors.CodeInvalidRecord, "device record has no device_id")
	}
	return falcon.PerformActionV2, falcon.Params{
		Query: url.Values{"action_name": {"hide_host"}},
		Body:  map[string][]string{"ids": {id}},
	}, nil
}

func (HideDevice) succeeded(status int) bool {
	return status >= 200 && status <= 299
}
