package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPruneNullsRemovesNullKeysRecursively(t *testing.T) {
	in := map[string]any{
		"a": nil,
		"b": "keep",
		"c": map[string]any{"d": nil, "e": 1.0},
		"f": []any{map[string]any{"g": nil, "h": 2.0}},
	}
	out := pruneNulls(in).(map[string]any)
	require.NotContains(t, out, "a")
	require.Equal(t, "keep", out["b"])
	require.NotContains(t, out["c"].(map[string]any), "d")
	require.Equal(t, 1.0, out["c"].(map[string]any)["e"])
	list := out["f"].([]any)
	require.NotContains(t, list[0].(map[string]any), "g")
}

func TestCallSuccessReturnsValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/query", r.URL.Path)
		require.Equal(t, clientHeaderValue, r.Header.Get(clientHeaderName))
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": map[string]any{"ok": true}})
	}))
	defer server.Close()

	c := New(server.Client(), server.URL)
	value, err := c.Query(context.Background(), "subscriptions:get", map[string]any{"userId": "u1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(value))
}

func TestCallErrorStatusReturnsMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "errorMessage": "boom"})
	}))
	defer server.Close()

	c := New(server.Client(), server.URL)
	_, err := c.Action(context.Background(), "usage:reserveForClerkUser", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func Test560TreatedAsApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(560)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "errorMessage": "denied"})
	}))
	defer server.Close()

	c := New(server.Client(), server.URL)
	_, err := c.Action(context.Background(), "usage:reserveForClerkUser", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "denied")
}

func TestOtherNonSuccessStatusIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("server exploded"))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL)
	_, err := c.Query(context.Background(), "x:y", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestCoerceInt64FromVariousShapes(t *testing.T) {
	n, err := CoerceInt64(json.RawMessage(`42`))
	require.NoError(t, err)
	require.EqualValues(t, 42, n)

	n, err = CoerceInt64(json.RawMessage(`"42"`))
	require.NoError(t, err)
	require.EqualValues(t, 42, n)

	n, err = CoerceInt64(json.RawMessage(`42.0`))
	require.NoError(t, err)
	require.EqualValues(t, 42, n)

	_, err = CoerceInt64(json.RawMessage(`42.5`))
	require.Error(t, err)
}

func TestCoerceOptionalInt64Null(t *testing.T) {
	n, ok, err := CoerceOptionalInt64(json.RawMessage(`null`))
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, n)
}
