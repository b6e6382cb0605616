package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"playtrack/internal/models"
)

// SessionSource is the upstream producer of sessions and findings (crash
// parser, playtest AI, manual QA entry). The engine only consumes this
// contract; it never writes back.
type SessionSource interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	GetFindings(ctx context.Context, sessionID string) ([]models.Finding, error)
}

// HTTPSessionSource consumes the producer's HTTP API:
// GET {base}/sessions and GET {base}/sessions/{id}/findings.
type HTTPSessionSource struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPSessionSource creates an HTTP-backed session source
func NewHTTPSessionSource(baseURL string) *HTTPSessionSource {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &HTTPSessionSource{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		// The producer is typically a small internal service; stay polite.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// ListSessions fetches all sessions known upstream
func (s *HTTPSessionSource) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.getJSON(ctx, s.baseURL+"/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetFindings fetches the findings of one session
func (s *HTTPSessionSource) GetFindings(ctx context.Context, sessionID string) ([]models.Finding, error) {
	var findings []models.Finding
	url := fmt.Sprintf("%s/sessions/%s/findings", s.baseURL, sessionID)
	if err := s.getJSON(ctx, url, &findings); err != nil {
		return nil, err
	}
	return findings, nil
}

func (s *HTTPSessionSource) getJSON(ctx context.Context, url string, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session source unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session source returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode session source response: %w", err)
	}
	return nil
}

// MemorySessionSource is an in-process source, used by tests and by
// producers that push sessions directly instead of being polled.
type MemorySessionSource struct {
	Sessions []models.Session
	Findings map[string][]models.Finding
}

// NewMemorySessionSource creates an empty in-memory source
func NewMemorySessionSource() *MemorySessionSource {
	return &MemorySessionSource{Findings: make(map[string][]models.Finding)}
}

// Add registers a session and its findings
func (s *MemorySessionSource) Add(session models.Session, findings []models.Finding) {
	s.Sessions = append(s.Sessions, session)
	s.Findings[session.ID] = findings
}

// ListSessions returns all registered sessions
func (s *MemorySessionSource) ListSessions(ctx context.Context) ([]models.Session, error) {
	return s.Sessions, nil
}

// GetFindings returns the findings of one registered session
func (s *MemorySessionSource) GetFindings(ctx context.Context, sessionID string) ([]models.Finding, error) {
	findings, ok := s.Findings[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return findings, nil
}
