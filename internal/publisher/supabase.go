package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTable is the PostgREST table approvals are inserted into.
const DefaultTable = "approved_outputs"

// SupabaseConfig configures a SupabasePublisher.
type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Table      string
	Timeout    time.Duration
}

// SupabasePublisher inserts approval records through the Supabase PostgREST API.
type SupabasePublisher struct {
	endpoint   string
	serviceKey string
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewSupabasePublisher creates a SupabasePublisher.
func NewSupabasePublisher(cfg SupabaseConfig, logger *zap.Logger) *SupabasePublisher {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &SupabasePublisher{
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/rest/v1/" + cfg.Table,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (p *SupabasePublisher) SetMetricsRecorder(fn MetricsRecorder) {
	p.onMetrics = fn
}

// Publish performs a single insert of rec.
func (p *SupabasePublisher) Publish(ctx context.Context, rec ApprovalRecord) error {
	err := p.insert(ctx, rec)
	if p.onMetrics != nil {
		p.onMetrics(err == nil)
	}
	if err != nil {
		return err
	}
	p.logger.Info("approval published",
		zap.String("final_hash", rec.FinalHash),
		zap.String("session_id", rec.SessionID),
	)
	return nil
}

func (p *SupabasePublisher) insert(ctx context.Context, rec ApprovalRecord) error {
	body, err := json.Marshal([]ApprovalRecord{rec})
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", p.serviceKey)
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post approval: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("supabase insert failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
