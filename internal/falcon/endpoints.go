package falcon

import "net/http"

type endpoint struct {
	method string
	path   string
}

var endpoints = map[Operation]endpoint{
	QueryChildren:        {http.MethodGet, "/mssp/queries/children/v1"},
	GetChildren:          {http.MethodGet, "/mssp/entities/children/v1"},
	RetrieveUserUUID:     {http.MethodGet, "/users/queries/user-uuids-by-email/v1"},
	RetrieveUser:         {http.MethodGet, "/users/entities/users/v1"},
	DeleteUser:           {http.MethodDelete, "/users/entities/users/v1"},
	QueryDevicesByFilter: {http.MethodGet, "/devices/queries/devices/v1"},
	GetDeviceDetails:     {http.MethodGet, "/devices/entities/devices/v2"},
	PerformActionV2:      {http.MethodPost, "/devices/entities/devices-actions/v2"},
}

// TokenPath is the OAuth2 client-credentials endpoint.
const TokenPath = "/oauth2/token"
