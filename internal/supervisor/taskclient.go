package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// TaskClient captures the supervisor -> task HTTP calls against a
// task's runner HTTP surface. Retries and uncontactable-task
// classification are the caller's (Supervisor's) responsibility;
// TaskClient itself makes one attempt per call.
type TaskClient interface {
	GetStatus(ctx context.Context, taskID string) (string, error)
	GetStartTime(ctx context.Context, taskID string) (time.Time, error)
	GetCheckpoints(ctx context.Context, taskID string) (map[int]map[streamid.PartitionID]string, error)
	GetCurrentOffsets(ctx context.Context, taskID string) (map[streamid.PartitionID]string, error)
	Pause(ctx context.Context, taskID string) (map[streamid.PartitionID]string, error)
	Resume(ctx context.Context, taskID string) error
	SetEndOffsets(ctx context.Context, taskID string, offsets map[streamid.PartitionID]string, finish bool) error
	Stop(ctx context.Context, taskID string) error
}

// HTTPTaskClient implements TaskClient against a task's runnerhttp
// server, addressed by a caller-supplied locator; how that locator
// resolves a task id to an address is the task orchestrator's concern.
type HTTPTaskClient struct {
	Locator func(taskID string) (string, error)
	Client  *http.Client
}

func NewHTTPTaskClient(locator func(taskID string) (string, error), timeout time.Duration) *HTTPTaskClient {
	return &HTTPTaskClient{Locator: locator, Client: &http.Client{Timeout: timeout}}
}

func (c *HTTPTaskClient) url(taskID, path string) (string, error) {
	base, err := c.Locator(taskID)
	if err != nil {
		return "", err
	}
	return base + path, nil
}

func (c *HTTPTaskClient) do(ctx context.Context, method, taskID, path string, body, out interface{}) error {
	u, err := c.url(taskID, path)
	if err != nil {
		return err
	}
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return ingesterrors.Wrap(fmt.Sprintf("task %s %s %s", taskID, method, path), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("task %s %s %s: status %d: %s", taskID, method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPTaskClient) GetStatus(ctx context.Context, taskID string) (string, error) {
	var out string
	err := c.do(ctx, http.MethodGet, taskID, "/status", nil, &out)
	return out, err
}

func (c *HTTPTaskClient) GetStartTime(ctx context.Context, taskID string) (time.Time, error) {
	var out string
	if err := c.do(ctx, http.MethodGet, taskID, "/time/start", nil, &out); err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, out)
}

func (c *HTTPTaskClient) GetCheckpoints(ctx context.Context, taskID string) (map[int]map[streamid.PartitionID]string, error) {
	var out map[int]map[streamid.PartitionID]string
	err := c.do(ctx, http.MethodGet, taskID, "/checkpoints", nil, &out)
	return out, err
}

func (c *HTTPTaskClient) GetCurrentOffsets(ctx context.Context, taskID string) (map[streamid.PartitionID]string, error) {
	var out map[streamid.PartitionID]string
	err := c.do(ctx, http.MethodGet, taskID, "/offsets/current", nil, &out)
	return out, err
}

func (c *HTTPTaskClient) Pause(ctx context.Context, taskID string) (map[streamid.PartitionID]string, error) {
	var out map[streamid.PartitionID]string
	err := c.do(ctx, http.MethodPost, taskID, "/pause", nil, &out)
	return out, err
}

func (c *HTTPTaskClient) Resume(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, taskID, "/resume", nil, nil)
}

func (c *HTTPTaskClient) SetEndOffsets(ctx context.Context, taskID string, offsets map[streamid.PartitionID]string, finish bool) error {
	path := "/offsets/end?finish=false"
	if finish {
		path = "/offsets/end?finish=true"
	}
	return c.do(ctx, http.MethodPost, taskID, path, offsets, nil)
}

func (c *HTTPTaskClient) Stop(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, taskID, "/stop", nil, nil)
}
