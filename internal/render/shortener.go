package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Shortener is a client for an external URL-shortening service. Callers
// treat every error as non-fatal and fall back to the long URL.
type Shortener struct {
	baseURL string
	client  *http.Client
}

// NewShortener creates a shortener client. An empty baseURL yields a nil
// client, which disables shortening.
func NewShortener(baseURL string, timeout time.Duration) *Shortener {
	if baseURL == "" {
		return nil
	}
	return &Shortener{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Shorten asks the service for a short form of the given URL.
func (s *Shortener) Shorten(long string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"url": long})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/shorten", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shortener returned %d", resp.StatusCode)
	}

	var out struct {
		ShortURL string `json:"shortUrl"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ShortURL == "" {
		return "", fmt.Errorf("shortener returned empty URL")
	}
	return out.ShortURL, nil
}
