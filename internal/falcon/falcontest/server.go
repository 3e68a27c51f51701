// Package falcontest runs an in-process fake of the Falcon management API for
// tests. It implements the token endpoint, the MSSP children endpoints and the
// user and device endpoints the sweeper calls, with state held in memory.
package falcontest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sweeper/pkg/secrets"
)

const (
	// ClientID is the only API client the fake server accepts.
	ClientID = "sweeper-test-client"

	tokenTTL = 30 * time.Minute
)

// User is a console user held by a fake tenant.
type User struct {
	UUID      string
	Email     string
	FirstName string
	LastName  string
}

// Device is a host held by a fake tenant.
type Device struct {
	ID            string
	Hostname      string
	AgentVersion  string
	OSVersion     string
	OSBuild       string
	LastLoginUser string
}

// Tenant seeds one tenant. CID is ignored for the parent.
type Tenant struct {
	CID     string
	Name    string
	Users   []User
	Devices []Device
}

// Call records one authenticated API request. CID is empty for the parent.
type Call struct {
	CID    string
	Method string
	Path   string
}

type tenantState struct {
	cid     string
	name    string
	users   []User
	devices []Device
	hidden  map[string]bool
}

type tokenClaims struct {
	CID string `json:"cid"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// Server is a running fake Falcon API.
type Server struct {
	srv          *httptest.Server
	clientSecret string
	secretHash   string
	signingKey   []byte

	mu           sync.Mutex
	tenants      map[string]*tenantState
	childOrder   []string
	rejected     map[string]bool
	broken       map[string]bool
	deleteStatus int
	hideStatus   int
	throttle     int
	tokenCalls   []string
	calls        []Call
}

// New starts a fake API holding parent and children. The server is closed
// when the test ends.
func New(t testing.TB, parent Tenant, children ...Tenant) *Server {
	t.Helper()

	secret, err := secrets.Generate()
	if err != nil {
		t.Fatalf("generate client secret: %v", err)
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		t.Fatalf("hash client secret: %v", err)
	}
	key, err := secrets.Generate()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	s := &Server{
		clientSecret: secret,
		secretHash:   hash,
		signingKey:   []byte(key),
		tenants:      make(map[string]*tenantState),
		rejected:     make(map[string]bool),
		broken:       make(map[string]bool),
		deleteStatus: http.StatusOK,
		hideStatus:   http.StatusAccepted,
	}
	s.tenants[""] = newTenantState("", parent)
	for _, child := range children {
		cid := strings.ToLower(child.CID)
		s.tenants[cid] = newTenantState(cid, child)
		s.childOrder = append(s.childOrder, cid)
	}

	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.srv.Close)
	return s
}

func newTenantState(cid string, t Tenant) *tenantState {
	return &tenantState{
		cid:     cid,
		name:    t.Name,
		users:   append([]User(nil), t.Users...),
		devices: append([]Device(nil), t.Devices...),
		hidden:  make(map[string]bool),
	}
}

// URL is the base URL of the fake API.
func (s *Server) URL() string { return s.srv.URL }

// ClientSecret is the secret matching ClientID.
func (s *Server) ClientSecret() string { return s.clientSecret }

// RejectTenant makes the token endpoint refuse member_cid=cid.
func (s *Server) RejectTenant(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[strings.ToLower(cid)] = true
}

// BreakTenant makes every API request scoped to cid answer with a body that
// is not JSON. Use "" for the parent.
func (s *Server) BreakTenant(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken[strings.ToLower(cid)] = true
}

// SetDeleteUserStatus sets the status answered to user deletions.
func (s *Server) SetDeleteUserStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteStatus = status
}

// SetHideStatus sets the status answered to hide_host actions.
func (s *Server) SetHideStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideStatus = status
}

// Throttle answers the next n API requests with 429.
func (s *Server) Throttle(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttle = n
}

// TokenRequests lists the member_cid of every token request, in order.
func (s *Server) TokenRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokenCalls...)
}

// Calls lists every authenticated API request, in order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsFor lists the API requests scoped to cid.
func (s *Server) CallsFor(cid string) []Call {
	cid = strings.ToLower(cid)
	var out []Call
	for _, c := range s.Calls() {
		if c.CID == cid {
			out = append(out, c)
		}
	}
	return out
}

// HasUser reports whether the tenant still holds a user with that UUID.
func (s *Server) HasUser(cid, userUUID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[strings.ToLower(cid)]
	if !ok {
		return false
	}
	for _, u := range t.users {
		if u.UUID == userUUID {
			return true
		}
	}
	return false
}

// IsHidden reports whether the device was hidden in the tenant.
func (s *Server) IsHidden(cid, deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[strings.ToLower(cid)]
	return ok && t.hidden[deviceID]
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/oauth2/token", s.handleToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/mssp/queries/children/v1", s.handleQueryChildren)
		r.Get("/mssp/entities/children/v1", s.handleGetChildren)
		r.Get("/users/queries/user-uuids-by-email/v1", s.handleUserUUIDs)
		r.Get("/users/entities/users/v1", s.handleGetUsers)
		r.Delete("/users/entities/users/v1", s.handleDeleteUser)
		r.Get("/devices/queries/devices/v1", s.handleQueryDevices)
		r.Get("/devices/entities/devices/v2", s.handleGetDevices)
		r.Post("/devices/entities/devices-actions/v2", s.handleDeviceAction)
	})
	return r
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "malformed form")
		return
	}
	memberCID := strings.ToLower(r.PostForm.Get("member_cid"))

	s.mu.Lock()
	s.tokenCalls = append(s.tokenCalls, memberCID)
	_, known := s.tenants[memberCID]
	rejected := s.rejected[memberCID]
	s.mu.Unlock()

	if r.PostForm.Get("client_id") != ClientID {
		writeEnvelope(w, http.StatusUnauthorized, nil, "access denied, invalid client")
		return
	}
	if err := secrets.Verify(r.PostForm.Get("client_secret"), s.secretHash); err != nil {
		writeEnvelope(w, http.StatusUnauthorized, nil, "access denied, invalid credentials")
		return
	}
	if !known || rejected {
		writeEnvelope(w, http.StatusForbidden, nil, "access denied, authorization failed")
		return
	}

	now := time.Now()
	claims := tokenClaims{
		CID: memberCID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ClientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, nil, "could not sign token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": signed,
		"token_type":   "bearer",
		"expires_in":   int(tokenTTL.Seconds()),
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeEnvelope(w, http.StatusUnauthorized, nil, "access denied, authorization failed")
			return
		}
		claims := &tokenClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return s.signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeEnvelope(w, http.StatusUnauthorized, nil, "access denied, invalid bearer token")
			return
		}

		s.mu.Lock()
		tenant, known := s.tenants[claims.CID]
		s.calls = append(s.calls, Call{CID: claims.CID, Method: r.Method, Path: r.URL.Path})
		throttled := s.throttle > 0
		if throttled {
			s.throttle--
		}
		broken := s.broken[claims.CID]
		s.mu.Unlock()

		switch {
		case !known:
			writeEnvelope(w, http.StatusForbidden, nil, "access denied, unknown tenant")
		case throttled:
			writeEnvelope(w, http.StatusTooManyRequests, nil, "API rate limit exceeded.")
		case broken:
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		default:
			next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), tenant)))
		}
	})
}

func (s *Server) handleQueryChildren(w http.ResponseWriter, r *http.Request) {
	if tenantFrom(r).cid != "" {
		writeEnvelope(w, http.StatusForbidden, nil, "access denied, authorization failed")
		return
	}
	s.mu.Lock()
	ids := append([]string{}, s.childOrder...)
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, ids)
}

func (s *Server) handleGetChildren(w http.ResponseWriter, r *http.Request) {
	if tenantFrom(r).cid != "" {
		writeEnvelope(w, http.StatusForbidden, nil, "access denied, authorization failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	children := []map[string]any{}
	for _, id := range r.URL.Query()["ids"] {
		child, ok := s.tenants[strings.ToLower(id)]
		if !ok || child.cid == "" {
			continue
		}
		children = append(children, map[string]any{
			"child_cid": child.cid,
			"name":      child.name,
			"status":    "active",
		})
	}
	writeEnvelope(w, http.StatusOK, children)
}

func (s *Server) handleUserUUIDs(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	email := strings.ToLower(r.URL.Query().Get("uid"))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range tenant.users {
		if strings.EqualFold(u.Email, email) {
			writeEnvelope(w, http.StatusOK, []string{u.UUID})
			return
		}
	}
	writeEnvelope(w, http.StatusNotFound, []string{}, "user not found")
}

func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	ids := r.URL.Query()["ids"]

	s.mu.Lock()
	defer s.mu.Unlock()
	users := []map[string]any{}
	for _, id := range ids {
		for _, u := range tenant.users {
			if u.UUID == id {
				users = append(users, map[string]any{
					"uuid":      u.UUID,
					"uid":       u.Email,
					"firstName": u.FirstName,
					"lastName":  u.LastName,
					"customer":  tenant.cid,
					"status":    "active",
				})
			}
		}
	}
	if len(users) == 0 {
		writeEnvelope(w, http.StatusNotFound, users, "user not found")
		return
	}
	writeEnvelope(w, http.StatusOK, users)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	id := r.URL.Query().Get("user_uuid")

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, u := range tenant.users {
		if u.UUID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeEnvelope(w, http.StatusNotFound, []string{}, "user not found")
		return
	}
	if s.deleteStatus != http.StatusOK {
		writeEnvelope(w, s.deleteStatus, []string{}, "delete failed")
		return
	}
	tenant.users = append(tenant.users[:idx], tenant.users[idx+1:]...)
	writeEnvelope(w, http.StatusOK, []string{})
}

func (s *Server) handleQueryDevices(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	hostname, ok := parseHostnameFilter(r.URL.Query().Get("filter"))
	if !ok {
		writeEnvelope(w, http.StatusBadRequest, []string{}, "invalid filter")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []string{}
	for _, d := range tenant.devices {
		if strings.EqualFold(d.Hostname, hostname) && !tenant.hidden[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	writeEnvelope(w, http.StatusOK, ids)
}

func (s *Server) handleGetDevices(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	ids := r.URL.Query()["ids"]

	s.mu.Lock()
	defer s.mu.Unlock()
	devices := []map[string]any{}
	for _, id := range ids {
		for _, d := range tenant.devices {
			if d.ID == id {
				devices = append(devices, map[string]any{
					"device_id":       d.ID,
					"hostname":        d.Hostname,
					"agent_version":   d.AgentVersion,
					"os_version":      d.OSVersion,
					"os_build":        d.OSBuild,
					"last_login_user": d.LastLoginUser,
					"cid":             tenant.cid,
				})
			}
		}
	}
	writeEnvelope(w, http.StatusOK, devices)
}

func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if r.URL.Query().Get("action_name") != "hide_host" {
		writeEnvelope(w, http.StatusBadRequest, []string{}, "unsupported action")
		return
	}
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
		writeEnvelope(w, http.StatusBadRequest, []string{}, "ids are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideStatus < 200 || s.hideStatus > 299 {
		writeEnvelope(w, s.hideStatus, []string{}, "action failed")
		return
	}
	resources := []map[string]any{}
	for _, id := range body.IDs {
		tenant.hidden[id] = true
		resources = append(resources, map[string]any{"id": id, "path": ""})
	}
	writeEnvelope(w, s.hideStatus, resources)
}

// parseHostnameFilter extracts X from the FQL expression hostname:'X'.
func parseHostnameFilter(filter string) (string, bool) {
	rest, ok := strings.CutPrefix(filter, "hostname:'")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, "'")
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(rest, `\'`, `'`), true
}

func writeEnvelope(w http.ResponseWriter, status int, resources any, errMessages ...string) {
	errs := []map[string]any{}
	for _, msg := range errMessages {
		errs = append(errs, map[string]any{"code": status, "message": msg})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"meta": map[string]any{
			"query_time": 0.001,
			"trace_id":   uuid.NewString(),
		},
		"resources": resources,
		"errors":    errs,
	})
}
