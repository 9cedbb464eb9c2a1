package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"streamswitch/internal/models"
)

// sinkRecord is the wire shape the collector endpoint accepts.
type sinkRecord struct {
	ContentType       string  `json:"contentType"`
	ContentID         string  `json:"contentId"`
	Event             string  `json:"event"`
	Quality           string  `json:"quality,omitempty"`
	Bandwidth         float64 `json:"bandwidth,omitempty"`
	Error             string  `json:"error,omitempty"`
	BufferingDuration int64   `json:"bufferingDuration,omitempty"`
}

// HTTPSink posts each event to a collector endpoint. Delivery is best-effort
// with a single attempt; the recorder owns the drop-and-log policy.
type HTTPSink struct {
	endpoint string
	token    string
	client   *http.Client
}

type HTTPSinkConfig struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("analytics endpoint is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSink{endpoint: endpoint, token: cfg.Token, client: client}, nil
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Deliver(ctx context.Context, event models.AnalyticsEvent) error {
	record := sinkRecord{
		ContentType:       string(event.ContentType),
		ContentID:         event.ContentID,
		Event:             string(event.Kind),
		Quality:           string(event.Quality),
		Bandwidth:         event.BandwidthKbps,
		Error:             event.Error,
		BufferingDuration: event.BufferingDurationMs,
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req, s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func setBearer(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
