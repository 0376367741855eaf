package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockTelegramUpdate is one queued chat message served by getUpdates.
type MockTelegramUpdate struct {
	Text   string
	Date   time.Time
	ChatID int64
}

// MockTelegram is a mock Telegram bot API serving sendMessage and
// getUpdates for OTP channel tests.
type MockTelegram struct {
	server *httptest.Server
	mu     sync.RWMutex

	updates      []MockTelegramUpdate
	SentMessages []string
}

// NewMockTelegram creates a new mock Telegram API server.
func NewMockTelegram() *MockTelegram {
	mock := &MockTelegram{}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			mock.handleSendMessage(w, r)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			mock.handleGetUpdates(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockTelegram) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTelegram) Close() {
	m.server.Close()
}

// QueueUpdate adds a chat message to be served by getUpdates.
func (m *MockTelegram) QueueUpdate(update MockTelegramUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
}

// SentCount returns the number of sendMessage calls received.
func (m *MockTelegram) SentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.SentMessages)
}

func (m *MockTelegram) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	json.NewDecoder(r.Body).Decode(&payload)

	m.mu.Lock()
	m.SentMessages = append(m.SentMessages, payload.Text)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"ok": true}`)
}

func (m *MockTelegram) handleGetUpdates(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]map[string]any, 0, len(m.updates))
	for _, u := range m.updates {
		results = append(results, map[string]any{
			"message": map[string]any{
				"text": u.Text,
				"date": u.Date.Unix(),
				"chat": map[string]any{"id": u.ChatID},
			},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": results})
}
