package runnerhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/runner"
	"github.com/ingestcore/streamtask/internal/streamid"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := runner.NewConfig("task-1", "ds", "stream-1", 0, "seq").WithPersistDir(t.TempDir())
	bounds := runner.Bounds{
		Start: map[streamid.PartitionID]string{"0": "0"},
		End:   map[streamid.PartitionID]string{"0": "100"},
	}
	r := runner.New(cfg, runner.Deps{}, dsmetadata.KindInt64Offset, bounds, streamid.NewSet())
	return httptest.NewServer(New(r))
}

func TestHandleStatusReturnsNotStarted(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var status string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "NOT_STARTED", status)
}

func TestHandleSetEndOffsetsNotPausedReturns400(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[streamid.PartitionID]string{"0": "50"})
	resp, err := http.Post(srv.URL+"/offsets/end?finish=false", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlePauseFromNotStartedReturns400(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCheckpointsEmptyByDefault(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/checkpoints")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var checkpoints map[int]map[streamid.PartitionID]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&checkpoints))
	assert.Empty(t, checkpoints)
}
