package helper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// MaxScriptBytes caps the size of a fetched provider script.
const MaxScriptBytes = 4 << 20

// FetchScript downloads a provider script and returns its source.
func FetchScript(ctx context.Context, log *slog.Logger, httpClient *http.Client, url string) (string, error) {
	log.Debug("Fetching provider script", "url", url)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create script request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch script, status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxScriptBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	if len(body) > MaxScriptBytes {
		return "", fmt.Errorf("script exceeds %d bytes", MaxScriptBytes)
	}

	return string(body), nil
}
