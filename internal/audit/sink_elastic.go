package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ElasticsearchSink indexes events into a daily index
// (gameforge-audit-YYYY.MM.DD) via a plain document POST. No client
// library: the sink needs exactly one endpoint and must stay cheap.
type ElasticsearchSink struct {
	baseURL string
	client  *http.Client
}

// NewElasticsearchSink creates a sink posting to the cluster at baseURL.
func NewElasticsearchSink(baseURL string) *ElasticsearchSink {
	return &ElasticsearchSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Name identifies the sink in warning logs.
func (s *ElasticsearchSink) Name() string {
	return "elasticsearch"
}

// Write indexes one event into the day's index.
func (s *ElasticsearchSink) Write(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	index := "gameforge-audit-" + event.Timestamp.UTC().Format("2006.01.02")
	url := fmt.Sprintf("%s/%s/_doc", s.baseURL, index)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("elasticsearch request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("elasticsearch returned status %d", resp.StatusCode)
	}
	return nil
}
