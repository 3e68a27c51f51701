package falcon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"sweeper/internal/falcon"
	"sweeper/internal/falcon/falcontest"
	"sweeper/internal/platform/metrics"
)

const childCID = "9889013e3aa74eb28370dc224a9e2066"

type ClientSuite struct {
	suite.Suite
	api     *falcontest.Server
	metrics *metrics.Metrics
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.api = falcontest.New(s.T(),
		falcontest.Tenant{
			Name:  "Parent",
			Users: []falcontest.User{{UUID: "0b7e1f4c-9a0b-4d8e-8f43-1d1c2a3b4c5d", Email: "alice@example.com"}},
		},
		falcontest.Tenant{
			CID:     childCID,
			Name:    "Child One",
			Devices: []falcontest.Device{{ID: "aid-1", Hostname: "web-01"}},
		},
	)
	s.metrics = metrics.New()
}

func (s *ClientSuite) newClient(auth falcon.Auth) *falcon.Client {
	return falcon.NewClient(
		falcon.Config{BaseURL: s.api.URL(), MaxRetries: 2},
		auth,
		falcon.WithMetrics(s.metrics),
		falcon.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
}

func (s *ClientSuite) parentAuth() falcon.Auth {
	return falcon.Auth{ClientID: falcontest.ClientID, ClientSecret: s.api.ClientSecret(), VerifyTLS: true}
}

func (s *ClientSuite) TestAuthenticate() {
	s.Run("parent credentials are accepted", func() {
		ok, err := s.newClient(s.parentAuth()).Authenticate(context.Background())
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("child is addressed through member_cid", func() {
		auth := s.parentAuth()
		auth.MemberCID = childCID
		ok, err := s.newClient(auth).Authenticate(context.Background())
		s.Require().NoError(err)
		s.True(ok)
		s.Contains(s.api.TokenRequests(), childCID)
	})

	s.Run("wrong secret is a rejection, not an error", func() {
		auth := s.parentAuth()
		auth.ClientSecret = "wrong"
		ok, err := s.newClient(auth).Authenticate(context.Background())
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("rejected child is a rejection", func() {
		s.api.RejectTenant(childCID)
		auth := s.parentAuth()
		auth.MemberCID = childCID
		ok, err := s.newClient(auth).Authenticate(context.Background())
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("unreachable API is a transport error", func() {
		c := falcon.NewClient(falcon.Config{BaseURL: "http://127.0.0.1:1"}, s.parentAuth())
		ok, err := c.Authenticate(context.Background())
		s.Require().Error(err)
		s.False(ok)
		s.Equal(falcon.ErrorUnavailable, falcon.GetCategory(err))
	})

	s.Run("cancelled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.newClient(s.parentAuth()).Authenticate(ctx)
		s.Require().Error(err)
		s.Equal(falcon.ErrorCanceled, falcon.GetCategory(err))
	})

	s.Run("hanging token endpoint gives way to the context deadline", func() {
		c := falcon.NewClient(falcon.Config{BaseURL: s.hangingAPI(), Timeout: 5 * time.Second}, s.parentAuth())
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		ok, err := c.Authenticate(ctx)
		s.Require().Error(err)
		s.False(ok)
		s.Equal(falcon.ErrorTimeout, falcon.GetCategory(err))
		s.Less(time.Since(start), 2*time.Second)
	})
}

// hangingAPI starts a server that never answers until the client gives up.
func (s *ClientSuite) hangingAPI() string {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	s.T().Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv.URL
}

func (s *ClientSuite) TestInvoke() {
	s.Run("decodes the envelope", func() {
		c := s.newClient(s.parentAuth())
		resp, err := c.Invoke(context.Background(), falcon.RetrieveUserUUID, falcon.Params{
			Query: url.Values{"uid": {"alice@example.com"}},
		})
		s.Require().NoError(err)
		s.Equal(http.StatusOK, resp.StatusCode)
		s.True(resp.Succeeded())
		s.NotEmpty(resp.Body.Meta.TraceID)

		ids, err := resp.IDs()
		s.Require().NoError(err)
		s.Equal([]string{"0b7e1f4c-9a0b-4d8e-8f43-1d1c2a3b4c5d"}, ids)
	})

	s.Run("decode errors name the operation", func() {
		resp, err := s.newClient(s.parentAuth()).Invoke(context.Background(), falcon.RetrieveUserUUID, falcon.Params{
			Query: url.Values{"uid": {"alice@example.com"}},
		})
		s.Require().NoError(err)
		s.Equal(falcon.RetrieveUserUUID, resp.Operation)

		_, err = resp.Entities()
		s.Require().Error(err)
		var te *falcon.TransportError
		s.Require().True(errors.As(err, &te))
		s.Equal(falcon.RetrieveUserUUID, te.Operation)
		s.Contains(err.Error(), "RetrieveUserUUID [bad_data]")
	})

	s.Run("non-2xx status is returned, not raised", func() {
		c := s.newClient(s.parentAuth())
		resp, err := c.Invoke(context.Background(), falcon.RetrieveUserUUID, falcon.Params{
			Query: url.Values{"uid": {"nobody@example.com"}},
		})
		s.Require().NoError(err)
		s.Equal(http.StatusNotFound, resp.StatusCode)
		s.False(resp.Succeeded())
		s.Require().Len(resp.Body.Errors, 1)

		ids, err := resp.IDs()
		s.Require().NoError(err)
		s.Empty(ids)
	})

	s.Run("sends JSON bodies", func() {
		auth := s.parentAuth()
		auth.MemberCID = childCID
		c := s.newClient(auth)
		resp, err := c.Invoke(context.Background(), falcon.PerformActionV2, falcon.Params{
			Query: url.Values{"action_name": {"hide_host"}},
			Body:  map[string][]string{"ids": {"aid-1"}},
		})
		s.Require().NoError(err)
		s.Equal(http.StatusAccepted, resp.StatusCode)
		s.True(s.api.IsHidden(childCID, "aid-1"))
	})

	s.Run("undecodable body is bad data", func() {
		s.api.BreakTenant("")
		c := s.newClient(s.parentAuth())
		_, err := c.Invoke(context.Background(), falcon.QueryChildren, falcon.Params{})
		s.Require().Error(err)
		s.Equal(falcon.ErrorBadData, falcon.GetCategory(err))
	})

	s.Run("unknown operation", func() {
		_, err := s.newClient(s.parentAuth()).Invoke(context.Background(), falcon.Operation("nope"), falcon.Params{})
		s.Require().Error(err)
		s.Equal(falcon.ErrorInternal, falcon.GetCategory(err))
	})

	s.Run("token fetch inside invoke honours the context", func() {
		c := falcon.NewClient(falcon.Config{BaseURL: s.hangingAPI(), Timeout: 5 * time.Second}, s.parentAuth())
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := c.Invoke(ctx, falcon.QueryChildren, falcon.Params{})
		s.Require().Error(err)
		s.Equal(falcon.ErrorTimeout, falcon.GetCategory(err))
		s.Less(time.Since(start), 2*time.Second)
	})

	s.Run("token failure mid-sweep is an authentication error", func() {
		auth := s.parentAuth()
		auth.ClientSecret = "wrong"
		_, err := s.newClient(auth).Invoke(context.Background(), falcon.QueryChildren, falcon.Params{})
		s.Require().Error(err)
		s.Equal(falcon.ErrorAuthentication, falcon.GetCategory(err))
	})
}

func (s *ClientSuite) TestRateLimitRetries() {
	s.Run("retries 429 until it clears", func() {
		s.api.Throttle(2)
		resp, err := s.newClient(s.parentAuth()).Invoke(context.Background(), falcon.QueryChildren, falcon.Params{})
		s.Require().NoError(err)
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("cancel during backoff is not a timeout", func() {
		s.api.Throttle(5)
		c := falcon.NewClient(
			falcon.Config{BaseURL: s.api.URL(), MaxRetries: 3},
			s.parentAuth(),
			falcon.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }),
		)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)
		defer cancel()

		_, err := c.Invoke(ctx, falcon.QueryChildren, falcon.Params{})
		s.Require().Error(err)
		s.Equal(falcon.ErrorCanceled, falcon.GetCategory(err))
	})

	s.Run("returns the last 429 when retries run out", func() {
		s.api.Throttle(5)
		resp, err := s.newClient(s.parentAuth()).Invoke(context.Background(), falcon.QueryChildren, falcon.Params{})
		s.Require().NoError(err)
		s.Equal(http.StatusTooManyRequests, resp.StatusCode)
	})
}

func (s *ClientSuite) TestMetrics() {
	c := s.newClient(s.parentAuth())
	ok, err := c.Authenticate(context.Background())
	s.Require().NoError(err)
	s.Require().True(ok)
	_, err = c.Invoke(context.Background(), falcon.QueryChildren, falcon.Params{})
	s.Require().NoError(err)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.APIRequests.WithLabelValues(string(falcon.QueryChildren), "200")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.APIRequests.WithLabelValues("oauth2AccessToken", "201")))
}

func TestResponseDecoding(t *testing.T) {
	t.Run("null resources leave the target untouched", func(t *testing.T) {
		resp := &falcon.Response{Body: falcon.Body{Resources: []byte("null")}}
		ids, err := resp.IDs()
		require.NoError(t, err)
		assert.Nil(t, ids)
	})

	t.Run("wrong shape is bad data", func(t *testing.T) {
		resp := &falcon.Response{Body: falcon.Body{Resources: []byte(`{"a":1}`)}}
		_, err := resp.Entities()
		require.Error(t, err)
		assert.Equal(t, falcon.ErrorBadData, falcon.GetCategory(err))
	})
}
