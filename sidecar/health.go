package sidecar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WaitHealthy polls url until it answers with a 2xx status. It returns early
// if ctx is done or the backend exits. Readiness is only observed here; the
// backend's API is its own business.
func (s *Supervisor) WaitHealthy(ctx context.Context, url string, interval time.Duration) error {
	p := s.Process()
	if p == nil || p.HasExited() {
		return ErrNotRunning
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = checkHealth(ctx, client, url); lastErr == nil {
			s.log.Info("backend healthy", "url", url, "after", p.Runtime().Round(time.Millisecond))
			return nil
		}
		s.log.Debug("backend not ready", "url", url, "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for backend health: %w (last: %v)", ctx.Err(), lastErr)
		case <-p.Done():
			return fmt.Errorf("backend exited before becoming healthy: %w", ErrNotRunning)
		case <-ticker.C:
		}
	}
}

func checkHealth(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
