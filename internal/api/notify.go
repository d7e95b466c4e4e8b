package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Operator notification fan-out.
//
// Events from the pipeline, watchers and commit engine are:
//   1. Broadcast via WebSocket to connected dashboards
//   2. Pushed to registered webhook endpoints (Slack, PagerDuty, SIEM)
//   3. Kept in memory for recent-event history
//
// Invariant violations and blocked commits are the events an operator
// must not miss; webhook delivery filters on severity for the rest.
// ──────────────────────────────────────────────────────────────────────

// Event is one structured operator notification.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // info/warning/critical
	Payload   any       `json:"payload,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver.
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"`
}

var severityRank = map[string]int{"info": 0, "warning": 1, "critical": 2}

// eventSeverity classifies known event types.
func eventSeverity(eventType string) string {
	switch eventType {
	case "invariant_violation", "commit_blocked", "job_failed":
		return "critical"
	case "job_needs_review", "sha_mismatch":
		return "warning"
	default:
		return "info"
	}
}

// Notifier fans events out to the hub and webhooks.
type Notifier struct {
	mu           sync.RWMutex
	hub          *Hub
	webhooks     []WebhookEndpoint
	recentEvents []Event
	maxHistory   int
	httpClient   *http.Client
	seq          int64
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{
		hub:        hub,
		maxHistory: 1000,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// RegisterWebhook adds a webhook endpoint.
func (n *Notifier) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhooks = append(n.webhooks, WebhookEndpoint{
		Name: name, URL: url, Headers: headers, MinSeverity: minSeverity,
	})
}

// Notify implements the shared event interface.
func (n *Notifier) Notify(eventType string, payload any) {
	n.mu.Lock()
	n.seq++
	ev := Event{
		ID:        time.Now().UTC().Format("20060102T150405") + "-" + strconv.FormatInt(n.seq, 10),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  eventSeverity(eventType),
		Payload:   payload,
	}
	n.recentEvents = append(n.recentEvents, ev)
	if len(n.recentEvents) > n.maxHistory {
		n.recentEvents = n.recentEvents[len(n.recentEvents)-n.maxHistory:]
	}
	hooks := make([]WebhookEndpoint, len(n.webhooks))
	copy(hooks, n.webhooks)
	n.mu.Unlock()

	if n.hub != nil {
		n.hub.Notify(eventType, payload)
	}

	for _, hook := range hooks {
		if severityRank[ev.Severity] < severityRank[hook.MinSeverity] {
			continue
		}
		go n.deliver(hook, ev)
	}
}

// RecentEvents returns the in-memory event history, newest last.
func (n *Notifier) RecentEvents(limit int) []Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if limit <= 0 || limit > len(n.recentEvents) {
		limit = len(n.recentEvents)
	}
	out := make([]Event, limit)
	copy(out, n.recentEvents[len(n.recentEvents)-limit:])
	return out
}

func (n *Notifier) deliver(hook WebhookEndpoint, ev Event) {
	body, err := json.Marshal(map[string]any{
		"text":  "[tariff-engine] " + ev.Type,
		"event": ev,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("[Notifier] webhook %s delivery failed: %v", hook.Name, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[Notifier] webhook %s returned %d", hook.Name, resp.StatusCode)
	}
}
