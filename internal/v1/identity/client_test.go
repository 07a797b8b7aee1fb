package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":42,"name":"A","language":"en"}`))
	})
	mux.HandleFunc("/chart/100", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":100,"name":"Spectral Rain"}`))
	})
	mux.HandleFunc("/record/7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":7,"player":42,"score":900000,"accuracy":0.98,"fullCombo":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMe(t *testing.T) {
	srv := newStubServer(t)
	c := NewClient(srv.URL)

	me, err := c.Me(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, int32(42), me.ID)
	assert.Equal(t, "A", me.Name)

	_, err = c.Me(context.Background(), "bad-token")
	assert.Error(t, err)
}

func TestChartName(t *testing.T) {
	srv := newStubServer(t)
	c := NewClient(srv.URL)

	assert.Equal(t, "Spectral Rain", c.ChartName(context.Background(), 100))
	// Unknown charts degrade to the fallback name instead of failing.
	assert.Equal(t, "Chart404", c.ChartName(context.Background(), 404))
}

func TestRecord(t *testing.T) {
	srv := newStubServer(t)
	c := NewClient(srv.URL)

	rec, err := c.Record(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int32(42), rec.Player)
	assert.Equal(t, int32(900000), rec.Score)
	assert.InDelta(t, 0.98, rec.Accuracy, 1e-6)
	assert.True(t, rec.FullCombo)
}
