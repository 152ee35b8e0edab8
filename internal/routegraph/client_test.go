package routegraph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validPayload = `{
	"code": "OK",
	"route": {
		"start_offset_m": 12.5,
		"segments": [
			{
				"id": "seg-1",
				"direction": "F",
				"start": [10.77, 106.69],
				"end": [10.771, 106.69],
				"length_m": 111.2,
				"speed_limits": [[0, 111.2, 60]]
			},
			{
				"id": "seg-2",
				"direction": "F",
				"start": [10.771, 106.69],
				"end": [10.772, 106.69],
				"length_m": 111.2,
				"speed_limits": []
			}
		],
		"alerts": [
			{"kind": "speed_camera", "limit_kph": 60, "distance_m": 80}
		]
	}
}`

func TestFetchRouteGraph(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Contains(t, r.URL.RawQuery, "point=")
		w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", nil, zap.NewNop())

	graph, err := c.FetchRouteGraph(context.Background(), 10.77, 106.69)
	require.NoError(t, err)
	require.Len(t, graph.Segments, 2)
	assert.Equal(t, "seg-1", graph.Segments[0].ID)
	assert.Equal(t, 60, graph.Segments[0].FirstLimitKph())
	assert.Equal(t, 0, graph.Segments[1].FirstLimitKph())
	assert.Equal(t, 12.5, graph.StartOffsetM)
	require.Len(t, graph.Alerts, 1)
	assert.Equal(t, "speed_camera", graph.Alerts[0].Kind)

	// 同一坐标第二次请求命中缓存
	_, err = c.FetchRouteGraph(context.Background(), 10.77, 106.69)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestFetchRouteGraphServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", nil, zap.NewNop())
	_, err := c.FetchRouteGraph(context.Background(), 10.77, 106.69)
	assert.Error(t, err)
}

func TestFetchRouteGraphInvalidPayload(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing route", `{"code": "OK"}`},
		{"empty segments", `{"code": "OK", "route": {"segments": []}}`},
		{"malformed endpoints", `{"code": "OK", "route": {"segments": [{"id": "x", "start": [1], "end": [2, 3]}]}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "test-key", nil, zap.NewNop())
			_, err := c.FetchRouteGraph(context.Background(), 10.77, 106.69)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}
