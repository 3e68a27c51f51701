package purge

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"sweeper/internal/falcon"
	"sweeper/internal/falcon/falcontest"
	"sweeper/internal/resolver"
	"sweeper/internal/tenant"
	dErrors "sweeper/pkg/domain-errors"
)

const (
	childCID  = "9889013e3aa74eb28370dc224a9e2066"
	aliceUUID = "07b61a51-00e5-4947-b5a0-1520456f1c1b"
	bobUUID   = "5a0c3a1e-7d1f-4b8e-9c2d-3e4f5a6b7c8d"
)

func parentTenant() falcontest.Tenant {
	return falcontest.Tenant{
		Name:  "Parent Tenant",
		Users: []falcontest.User{{UUID: bobUUID, Email: "bob@example.com"}},
		Devices: []falcontest.Device{{
			ID: "aid-parent", Hostname: "HOST-01", AgentVersion: "7.10.1", OSVersion: "Windows 11",
			OSBuild: "22631", LastLoginUser: "bob",
		}},
	}
}

func childTenant() falcontest.Tenant {
	return falcontest.Tenant{
		CID:   childCID,
		Name:  "Child One",
		Users: []falcontest.User{{UUID: aliceUUID, Email: "a@x.com"}},
		Devices: []falcontest.Device{
			{ID: "aid-child", Hostname: "HOST-01", AgentVersion: "7.09.0", OSVersion: "Windows 10", OSBuild: "19045"},
			{ID: "aid-web", Hostname: "web-02", AgentVersion: "7.11.0", OSVersion: "Ubuntu 22.04", OSBuild: "5.15", LastLoginUser: "root"},
		},
	}
}

// newEnv logs a real registry into a fake API and returns a resolver over it.
func newEnv(t *testing.T, connectChildren bool) (*falcontest.Server, *resolver.Resolver) {
	t.Helper()
	api := falcontest.New(t, parentTenant(), childTenant())
	reg := tenant.NewRegistry(tenant.NewClientFactory(falcon.Config{BaseURL: api.URL()}))
	reg.Configure(falcontest.ClientID, api.ClientSecret())
	require.NoError(t, reg.Login(context.Background(), connectChildren, "Parent Tenant"))
	return api, resolver.New(reg)
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func deletesTo(api *falcontest.Server, cid string) int {
	n := 0
	for _, c := range api.CallsFor(cid) {
		if c.Method == http.MethodDelete {
			n++
		}
	}
	return n
}

func TestUsersSimulate(t *testing.T) {
	api, r := newEnv(t, true)
	var out bytes.Buffer

	sum := New(r, ModeSimulate, &out).Users(context.Background(), []string{"a@x.com", "nobody@x.com"})

	assert.Equal(t, []string{
		"SIMULATE - a@x.com - simulated delete of uuid " + aliceUUID + ", tenant Child One",
		"NOTFOUND - nobody@x.com - not found in any tenant",
	}, lines(&out))
	assert.Equal(t, Summary{Processed: 2, Simulated: 1, NotFound: 1}, sum)
	assert.True(t, api.HasUser(childCID, aliceUUID))
	assert.Zero(t, deletesTo(api, childCID))
}

func TestUsersDeleteOnlyInOwningTenant(t *testing.T) {
	api, r := newEnv(t, true)
	var out bytes.Buffer

	sum := New(r, ModeDelete, &out).Users(context.Background(), []string{"a@x.com"})

	assert.Equal(t, []string{"DELETE - a@x.com uuid " + aliceUUID + ", tenant Child One"}, lines(&out))
	assert.Equal(t, 1, sum.Deleted)
	assert.NoError(t, sum.Err)
	assert.False(t, api.HasUser(childCID, aliceUUID))
	assert.Equal(t, 1, deletesTo(api, childCID))
	assert.Zero(t, deletesTo(api, ""))
}

func TestUsersDeleteTwice(t *testing.T) {
	_, r := newEnv(t, true)
	ctx := context.Background()

	rec, found, err := r.Find(ctx, "a@x.com", resolver.UserLookup{})
	require.NoError(t, err)
	require.True(t, found)

	acted, err := r.Act(ctx, rec, resolver.DeleteUser{})
	require.NoError(t, err)
	assert.True(t, acted)

	acted, err = r.Act(ctx, rec, resolver.DeleteUser{})
	require.NoError(t, err)
	assert.False(t, acted)
}

func TestUsersFailuresContinue(t *testing.T) {
	api, r := newEnv(t, true)
	api.SetDeleteUserStatus(http.StatusInternalServerError)
	var out bytes.Buffer

	sum := New(r, ModeDelete, &out).Users(context.Background(), []string{
		"not-an-email",
		"bob@example.com",
		"a@x.com",
	})

	got := lines(&out)
	require.Len(t, got, 3)
	assert.Equal(t, "ERROR - not-an-email - email must be a valid email", got[0])
	assert.Equal(t, "ERROR - bob@example.com found with uuid "+bobUUID+" in tenant Parent Tenant but delete failed", got[1])
	assert.Equal(t, "ERROR - a@x.com found with uuid "+aliceUUID+" in tenant Child One but delete failed", got[2])

	assert.Equal(t, 3, sum.Failed)
	errs := multierr.Errors(sum.Err)
	require.Len(t, errs, 3)
	assert.True(t, dErrors.HasCode(errs[0], dErrors.CodeValidation))
	assert.ErrorIs(t, errs[1], ErrNotApplied)
	assert.True(t, api.HasUser("", bobUUID))
}

func TestUsersLookupErrorContinues(t *testing.T) {
	api, r := newEnv(t, true)
	api.BreakTenant(childCID)
	var out bytes.Buffer

	sum := New(r, ModeSimulate, &out).Users(context.Background(), []string{"missing@x.com", "bob@example.com"})

	got := lines(&out)
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0], "ERROR - missing@x.com - lookup failed: "), got[0])
	assert.Equal(t, "SIMULATE - bob@example.com - simulated delete of uuid "+bobUUID+", tenant Parent Tenant", got[1])
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, falcon.ErrorBadData, falcon.GetCategory(sum.Err))
}

func TestHostsDuplicateResolvesToEarliestTenant(t *testing.T) {
	_, r := newEnv(t, true)
	var out bytes.Buffer

	New(r, ModeSimulate, &out).Hosts(context.Background(), []string{"HOST-01"})

	assert.Equal(t, []string{
		"SIMULATE - HOST-01 - AID:aid-parent AgentVer:7.10.1 OS:Windows 11@22631 last_login_user:bob",
	}, lines(&out))
}

func TestHostsDelete(t *testing.T) {
	api, r := newEnv(t, true)
	var out bytes.Buffer

	sum := New(r, ModeDelete, &out).Hosts(context.Background(), []string{"web-02", "ghost"})

	assert.Equal(t, []string{
		"DELETED - web-02 AID:aid-web AgentVer:7.11.0 OS:Ubuntu 22.04@5.15 last_login_user:root",
		"NOTFOUND - ghost",
	}, lines(&out))
	assert.Equal(t, Summary{Processed: 2, Deleted: 1, NotFound: 1}, sum)
	assert.True(t, api.IsHidden(childCID, "aid-web"))
}

func TestHostsParentOnly(t *testing.T) {
	api, r := newEnv(t, false)
	var out bytes.Buffer

	New(r, ModeSimulate, &out).Hosts(context.Background(), []string{"web-02"})

	assert.Equal(t, []string{"NOTFOUND - web-02"}, lines(&out))
	assert.Empty(t, api.CallsFor(childCID))
}

func TestHostsHideFailure(t *testing.T) {
	api, r := newEnv(t, true)
	api.SetHideStatus(http.StatusInternalServerError)
	var out bytes.Buffer

	sum := New(r, ModeDelete, &out).Hosts(context.Background(), []string{"web-02"})

	assert.Equal(t, []string{"ERROR - failed to delete web-02"}, lines(&out))
	assert.Equal(t, 1, sum.Failed)
	assert.ErrorIs(t, sum.Err, ErrNotApplied)
	assert.False(t, api.IsHidden(childCID, "aid-web"))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("delete")
	require.NoError(t, err)
	assert.Equal(t, ModeDelete, mode)

	_, err = ParseMode("nuke")
	require.Error(t, err)
	assert.Equal(t, "action must be one of [simulate delete]", err.Error())
}

func TestReadEmails(t *testing.T) {
	in := strings.NewReader("# offboarded in March\nA@X.com\n\n  b@x.com  \na@x.com\n")
	emails, err := ReadEmails(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"A@X.com", "b@x.com"}, emails)
}

func TestUsersKeepOperatorSpelling(t *testing.T) {
	api, r := newEnv(t, true)
	var out bytes.Buffer

	sum := New(r, ModeDelete, &out).Users(context.Background(), []string{"A@X.com"})

	assert.Equal(t, []string{"DELETE - A@X.com uuid " + aliceUUID + ", tenant Child One"}, lines(&out))
	assert.Equal(t, 1, sum.Deleted)
	assert.False(t, api.HasUser(childCID, aliceUUID))
}

func TestParseHosts(t *testing.T) {
	assert.Equal(t, []string{"web-01", "WEB-02"}, ParseHosts(" web-01, WEB-02,,web-01 "))
	assert.Empty(t, ParseHosts("  "))
}
