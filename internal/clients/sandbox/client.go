package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/tasks"
	"github.com/openedtech/tutorcore/internal/utils"
)

// Client submits learner code to the browser evaluation service. The
// service renders the page headlessly, walks the checkpoints in order,
// and reports the verdict.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

func NewClient(log *logger.Logger) *Client {
	base := utils.GetEnv("SANDBOX_URL", "http://localhost:8100", log)
	timeout := utils.GetEnvAsDuration("SANDBOX_TIMEOUT", 60*time.Second, log)
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(base, "/"),
		log:        log.With("client", "SandboxClient"),
	}
}

type evaluationRequest struct {
	UserCode    map[string]string `json:"user_code"`
	Checkpoints []map[string]any  `json:"checkpoints"`
}

type evaluationResponse struct {
	Passed  bool     `json:"passed"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// RunEvaluation implements the submission handler's sandbox.
func (c *Client) RunEvaluation(ctx context.Context, code prompts.CodeContent, checkpoints []map[string]any) (*tasks.EvalResult, error) {
	payload := evaluationRequest{
		UserCode: map[string]string{
			"html": code.HTML,
			"css":  code.CSS,
			"js":   code.JS,
		},
		Checkpoints: checkpoints,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build evaluation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sandbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned status %d", resp.StatusCode)
	}

	var out evaluationResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	return &tasks.EvalResult{
		Passed:  out.Passed,
		Message: out.Message,
		Details: out.Details,
	}, nil
}
