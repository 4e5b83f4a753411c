package searchsvc

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
	"github.com/trezcool/querydesc/tests"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := &core.Config{}
	conf.Search.BackendURL = srv.URL + "/"
	conf.Search.Timeout = time.Second
	conf.Search.Endpoints = []string{"searchRecord", "/broken/"}
	return NewClient(conf, testutil.NewLogger())
}

func TestClient_Search(t *testing.T) {
	d, err := querydesc.Preset("records")
	require.NoError(t, err)

	var gotPath, gotAuth string
	var gotBody querydesc.Descriptor
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		data, _ := ioutil.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		switch r.URL.Path {
		case "/searchRecord":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data": {"results": [{"recordId": 1}], "totalCount": 31, "limit": 10, "offset": 0}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down\n"))
		}
	})

	t.Run("ok", func(t *testing.T) {
		res, err := c.Search(context.Background(), "searchRecord", d, "tok")
		require.NoError(t, err)
		assert.Equal(t, "/searchRecord", gotPath)
		assert.Equal(t, "Bearer tok", gotAuth)
		assert.Equal(t, "Record", gotBody.Root.Datasource)
		assert.Equal(t, []string{}, gotBody.Root.Attributes) // "all fields" is sent as []
		assert.Equal(t, 31, res.TotalCount)
		assert.Equal(t, 10, res.Limit)
		require.Len(t, res.Results, 1)
		assert.JSONEq(t, `{"recordId": 1}`, string(res.Results[0]))
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		_, err := c.Search(context.Background(), "dropTables", d, "tok")
		assert.Equal(t, ErrUnknownEndpoint, errors.Cause(err))
	})

	t.Run("backend error", func(t *testing.T) {
		_, err := c.Search(context.Background(), "broken", d, "")
		var bErr *BackendError
		require.True(t, errors.As(err, &bErr), "error = %v", err)
		assert.Equal(t, http.StatusBadGateway, bErr.StatusCode)
		assert.EqualError(t, err, "backend responded 502: upstream down")
		assert.Empty(t, gotAuth)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Search(ctx, "searchRecord", d, "tok")
		assert.True(t, errors.Is(err, context.Canceled), "error = %v", err)
	})
}
