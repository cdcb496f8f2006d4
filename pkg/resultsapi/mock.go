package resultsapi

import (
	"context"
	"sync"

	"github.com/abrezinsky/cragboard/internal/models"
)

// MockClient is a mock results client for testing
type MockClient struct {
	mu      sync.Mutex
	baseURL string
	saveErr error
	saved   []models.ResultsPayload
	notify  chan models.ResultsPayload
}

// MockOption configures the mock client
type MockOption func(*MockClient)

// WithSaveError sets an error to return from SaveRanking
func WithSaveError(err error) MockOption {
	return func(m *MockClient) {
		m.saveErr = err
	}
}

// WithBaseURL sets the base URL
func WithBaseURL(url string) MockOption {
	return func(m *MockClient) {
		m.baseURL = url
	}
}

// WithNotify makes every SaveRanking call also send its payload on ch.
func WithNotify(ch chan models.ResultsPayload) MockOption {
	return func(m *MockClient) {
		m.notify = ch
	}
}

// NewMockClient creates a new mock results client
func NewMockClient(opts ...MockOption) *MockClient {
	m := &MockClient{baseURL: "http://mock-results.local"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BaseURL returns the configured base URL
func (m *MockClient) BaseURL() string {
	return m.baseURL
}

// SetBaseURL updates the base URL
func (m *MockClient) SetBaseURL(url string) {
	m.baseURL = url
}

// SaveRanking records the payload
func (m *MockClient) SaveRanking(ctx context.Context, payload models.ResultsPayload) (*SaveResponse, error) {
	m.mu.Lock()
	m.saved = append(m.saved, payload)
	err := m.saveErr
	m.mu.Unlock()

	if m.notify != nil {
		m.notify <- payload
	}
	if err != nil {
		return nil, err
	}
	return &SaveResponse{Status: "ok", Saved: []string{payload.Category + "/overall"}}, nil
}

// Saved returns the payloads received so far
func (m *MockClient) Saved() []models.ResultsPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ResultsPayload(nil), m.saved...)
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)
var _ Client = (*HTTPClient)(nil)
