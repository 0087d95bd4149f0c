package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/retry"
)

// Forwarder escalates decision requests to a parent monitor.
type Forwarder struct {
	baseURL string
	apiKey  string
	client  *http.Client
	profile retry.Profile
	logger  *slog.Logger
}

// NewForwarder creates a Forwarder, or nil when no upstream is configured.
func NewForwarder(baseURL, apiKey string) *Forwarder {
	if baseURL == "" {
		return nil
	}
	return &Forwarder{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		profile: retry.Patient,
		logger:  slog.Default().With("component", "decision-forwarder"),
	}
}

type envelope struct {
	Success bool                    `json:"success"`
	Data    models.DecisionResponse `json:"data"`
	Message string                  `json:"message,omitempty"`
}

// Forward sends the request to the parent monitor and returns its verdict,
// or nil when the parent cannot produce one. Callers fall back to deciding
// locally, so transport failures are logged rather than propagated.
func (f *Forwarder) Forward(ctx context.Context, req models.DecisionRequest) *models.DecisionResponse {
	body, err := json.Marshal(req)
	if err != nil {
		f.logger.Error("Failed to marshal decision request", "error", err)
		return nil
	}

	var resp *models.DecisionResponse
	err = retry.Do(ctx, f.profile, func(ctx context.Context) error {
		r, err := f.post(ctx, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		f.logger.Warn("Failed to forward decision request",
			"upstream", f.baseURL, "agent_id", req.AgentID, "error", err)
		return nil
	}
	return resp
}

func (f *Forwarder) post(ctx context.Context, body []byte) (*models.DecisionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+"/api/v1/decisions/request", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, &retry.HTTPStatusError{StatusCode: res.StatusCode, Body: string(snippet)}
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode decision response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("upstream rejected decision request: %s", env.Message)
	}
	return &env.Data, nil
}
