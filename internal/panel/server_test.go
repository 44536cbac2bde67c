package panel

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, srv *httptest.Server, path, user, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return resp, out
}

func TestServerOpenToggle(t *testing.T) {
	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(logger, h.ctl, h.backend, "alice", "").Handler())
	defer srv.Close()

	resp, body := post(t, srv, "/panel/open", "", "", `{"calendarId":"cal","title":"Standup #work"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	key := body["key"].(string)
	assert.True(t, strings.HasPrefix(key, "draft:"))

	resp, body = post(t, srv, "/panel/toggle", "", "", `{"key":"`+key+`","tag":"#Personal"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["tags"], 2)

	// Keys are private to the user that staged them.
	resp, body = post(t, srv, "/panel/toggle", "bob", "", `{"key":"`+key+`","tag":"#Personal"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "missing")

	resp, _ = post(t, srv, "/panel/open", "", "", `{"title":"no calendar"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, srv, "/panel/open", "", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerConfigAndRefresh(t *testing.T) {
	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(logger, h.ctl, h.backend, "alice", "").Handler())
	defer srv.Close()

	resp, body := post(t, srv, "/panel/config", "", "", `{"sheetId":"s1","sheetName":"Tags","tagColumn":"??"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, body["notice"])

	resp, _ = post(t, srv, "/panel/config", "", "", `{"sheetId":"s1","sheetName":"Tags","tagColumn":"A"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = post(t, srv, "/panel/refresh", "", "", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["tags"], 3)
}

func TestServerAPIKey(t *testing.T) {
	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(logger, h.ctl, h.backend, "alice", "s3cret").Handler())
	defer srv.Close()

	resp, _ := post(t, srv, "/panel/refresh", "", "", ``)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = post(t, srv, "/panel/refresh", "", "s3cret", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
