package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"evallab/internal/metrics"
	"evallab/internal/model"
)

var (
	ErrUnexpectedStatus  = errors.New("pipeline returned unexpected status")
	ErrMalformedResponse = errors.New("pipeline returned malformed response")
)

// PipelineInvoker calls a pipeline once. A non-nil error means the trial failed.
type PipelineInvoker interface {
	Invoke(ctx context.Context, endpoint, pipelineID, runID, input string) (*model.PipelineRun, error)
}

type PipelineClient struct {
	Client  *http.Client
	metrics metrics.Recorder
	now     func() time.Time
}

var _ PipelineInvoker = (*PipelineClient)(nil)

// NewPipelineClient builds a client with the given request timeout; zero
// disables the client-side timeout.
func NewPipelineClient(timeout time.Duration, rec metrics.Recorder) *PipelineClient {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &PipelineClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		metrics: rec,
		now:     time.Now,
	}
}

type invokeRequest struct {
	PipelineID string `json:"pipelineId"`
	ID         string `json:"id"`
	Input      string `json:"input"`
}

type invokeResponse struct {
	Output *string `json:"output"`
}

// Invoke POSTs {pipelineId, id, input} to endpoint and expects 200 {"output": string}.
func (c *PipelineClient) Invoke(ctx context.Context, endpoint, pipelineID, runID, input string) (*model.PipelineRun, error) {
	start := c.now()
	defer func() {
		c.metrics.ObserveInvoke(c.now().Sub(start).Seconds())
	}()

	jsonData, err := json.Marshal(invokeRequest{
		PipelineID: pipelineID,
		ID:         runID,
		Input:      input,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call pipeline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d, %s", ErrUnexpectedStatus, resp.StatusCode, truncateBody(body, maxErrorBody))
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Output == nil {
		return nil, fmt.Errorf("%w: missing output", ErrMalformedResponse)
	}

	return &model.PipelineRun{
		ID:         runID,
		PipelineID: pipelineID,
		Input:      input,
		Output:     *out.Output,
		CreatedAt:  c.now(),
	}, nil
}

const maxErrorBody = 500

// truncateBody shortens an upstream body for error messages, cutting on a
// rune boundary.
func truncateBody(body []byte, max int) string {
	if len(body) <= max {
		return strings.ToValidUTF8(string(body), "\uFFFD")
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return strings.ToValidUTF8(string(body[:cut]), "\uFFFD") + "..."
}
