package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/websocket"
)

const (
	SignatureHeader = "X-Careflow-Signature"
	TimestampHeader = "X-Careflow-Timestamp"
	EndpointHeader  = "X-Careflow-Webhook"

	EventTest = "webhook.test"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature (with or without the "sha256="
// prefix) matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

type Option func(*Manager)

// WithHTTPClient overrides the client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithRetryDelays sets the wait before each retry. Its length is the number
// of retries.
func WithRetryDelays(d ...time.Duration) Option {
	return func(m *Manager) { m.retryDelays = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithConcurrency bounds the number of delivery attempts in flight at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = make(chan struct{}, n)
		}
	}
}

// WithQueueSize bounds the number of events waiting for delivery.
func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queue = make(chan websocket.Event, n) }
}

// Manager registers endpoints and delivers events to them from a
// background worker, so the request that produced an event never waits on
// an external endpoint. Each (endpoint, event) pair is delivered on its own
// schedule; a failing endpoint never delays the others.
type Manager struct {
	store       Store
	httpClient  *http.Client
	retryDelays []time.Duration
	log         zerolog.Logger
	queue       chan websocket.Event
	slots       chan struct{}
	wg          sync.WaitGroup
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 30 * time.Second, 5 * time.Minute},
		log:         zerolog.Nop(),
		queue:       make(chan websocket.Event, 256),
		slots:       make(chan struct{}, 16),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

// Registration describes a new endpoint.
type Registration struct {
	URL       string      `json:"url"`
	Secret    string      `json:"secret"`
	Events    []string    `json:"events"`
	Roles     []task.Role `json:"roles"`
	CreatedBy string      `json:"-"`
}

// Register validates r and stores an active endpoint. A missing secret is
// generated; missing events default to every task event.
func (m *Manager) Register(ctx context.Context, r Registration) (*Endpoint, error) {
	if err := validateURL(r.URL); err != nil {
		return nil, err
	}
	for _, role := range r.Roles {
		if !role.Valid() {
			return nil, fmt.Errorf("unknown role %q", role)
		}
	}
	if r.Secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		r.Secret = s
	}
	if len(r.Events) == 0 {
		r.Events = []string{"task.*"}
	}
	ep := &Endpoint{
		ID:        uuid.NewString(),
		URL:       r.URL,
		Secret:    r.Secret,
		Events:    r.Events,
		Roles:     r.Roles,
		Status:    StatusActive,
		CreatedBy: r.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *Manager) setStatus(ctx context.Context, id, status string) (*Endpoint, error) {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	ep.Status = status
	if err := m.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *Manager) Pause(ctx context.Context, id string) (*Endpoint, error) {
	return m.setStatus(ctx, id, StatusPaused)
}

func (m *Manager) Resume(ctx context.Context, id string) (*Endpoint, error) {
	return m.setStatus(ctx, id, StatusActive)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteEndpoint(ctx, id)
}

func (m *Manager) Endpoint(ctx context.Context, id string) (*Endpoint, error) {
	return m.store.GetEndpoint(ctx, id)
}

func (m *Manager) Endpoints(ctx context.Context, limit, offset int) ([]*Endpoint, int, error) {
	return m.store.ListEndpoints(ctx, limit, offset)
}

func (m *Manager) Deliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	if _, err := m.store.GetEndpoint(ctx, endpointID); err != nil {
		return nil, 0, err
	}
	return m.store.ListDeliveries(ctx, endpointID, limit, offset)
}

// eventMatches reports whether eventType matches pattern. "*" matches
// everything, "task.*" every task event.
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep *Endpoint) wants(ev websocket.Event) bool {
	if ep.Status != StatusActive {
		return false
	}
	matched := false
	for _, p := range ep.Events {
		if eventMatches(p, ev.Type) {
			matched = true
			break
		}
	}
	if !matched || len(ep.Roles) == 0 {
		return matched
	}
	for _, role := range ep.Roles {
		if ev.Topic == websocket.TopicFor(role) {
			return true
		}
	}
	return false
}

// TaskEnqueued queues the enqueue event of t for delivery. A full queue
// drops the event and reports it.
func (m *Manager) TaskEnqueued(_ context.Context, t *task.Task) error {
	ev, err := websocket.TaskEvent(t)
	if err != nil {
		return err
	}
	select {
	case m.queue <- ev:
		return nil
	default:
		return fmt.Errorf("webhook queue full, dropped event for task %s", t.ID)
	}
}

// Start runs the delivery worker until ctx ends. The worker only fans
// events out; attempts run on pooled goroutines and retries wait on timers,
// so the queue keeps draining while an endpoint is down.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-m.queue:
				m.fanOut(ctx, ev)
			}
		}
	}()
}

// Wait blocks until the worker started by Start, its in-flight attempts
// and its pending retries have returned.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) fanOut(ctx context.Context, ev websocket.Event) {
	endpoints, err := m.targets(ctx, ev)
	if err != nil {
		m.log.Error().Err(err).Msg("list webhook endpoints")
		return
	}
	for _, ep := range endpoints {
		m.dispatch(ctx, ep, ev, 1)
	}
}

// dispatch runs attempt number attempt of ev to ep once a slot is free.
// A failed attempt schedules the next one without holding a slot while it
// waits.
func (m *Manager) dispatch(ctx context.Context, ep *Endpoint, ev websocket.Event, attempt int) {
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		d := m.send(ctx, ep, ev, attempt)
		<-m.slots
		if wait, again := m.nextAttempt(ep, ev, d); again {
			m.schedule(ctx, ep, ev, d.Attempt+1, wait)
		}
	}()
}

func (m *Manager) schedule(ctx context.Context, ep *Endpoint, ev websocket.Event, attempt int, wait time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.dispatch(ctx, ep, ev, attempt)
	}()
}

// nextAttempt reports whether d failed with retries left, and how long to
// wait before the next one. The final failure is logged.
func (m *Manager) nextAttempt(ep *Endpoint, ev websocket.Event, d *Delivery) (time.Duration, bool) {
	if d.ok() {
		return 0, false
	}
	if d.Attempt <= len(m.retryDelays) {
		return m.retryDelays[d.Attempt-1], true
	}
	m.log.Warn().Str("endpoint_id", ep.ID).Str("event", ev.Type).Int("attempts", d.Attempt).
		Str("error", d.Error).Msg("webhook delivery failed")
	return 0, false
}

func (m *Manager) targets(ctx context.Context, ev websocket.Event) ([]*Endpoint, error) {
	endpoints, _, err := m.store.ListEndpoints(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	out := endpoints[:0]
	for _, ep := range endpoints {
		if ep.wants(ev) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// Deliver sends ev to every active endpoint that wants it and waits for
// each to succeed or run out of retries. Endpoints are served concurrently.
// It returns the last attempt per endpoint.
func (m *Manager) Deliver(ctx context.Context, ev websocket.Event) []*Delivery {
	endpoints, err := m.targets(ctx, ev)
	if err != nil {
		m.log.Error().Err(err).Msg("list webhook endpoints")
		return nil
	}
	out := make([]*Delivery, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		i, ep := i, ep
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = m.deliverWithRetry(ctx, ep, ev)
		}()
	}
	wg.Wait()
	return out
}

func (m *Manager) deliverWithRetry(ctx context.Context, ep *Endpoint, ev websocket.Event) *Delivery {
	d := m.send(ctx, ep, ev, 1)
	for {
		wait, again := m.nextAttempt(ep, ev, d)
		if !again {
			return d
		}
		select {
		case <-ctx.Done():
			return d
		case <-time.After(wait):
		}
		d = m.send(ctx, ep, ev, d.Attempt+1)
	}
}

// send makes one signed POST of ev to ep and logs the attempt.
func (m *Manager) send(ctx context.Context, ep *Endpoint, ev websocket.Event, attempt int) *Delivery {
	payload, _ := json.Marshal(ev)
	sig := SignPayload(payload, ep.Secret)
	now := time.Now().UTC()

	d := &Delivery{
		ID:         uuid.NewString(),
		EndpointID: ep.ID,
		EventType:  ev.Type,
		TaskID:     ev.TaskID,
		Payload:    payload,
		Signature:  sig,
		Attempt:    attempt,
		Status:     "failed",
		CreatedAt:  now,
	}
	defer func() {
		if err := m.store.RecordDelivery(ctx, d); err != nil {
			m.log.Error().Err(err).Str("delivery_id", d.ID).Msg("record webhook delivery")
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+sig)
	req.Header.Set(EndpointHeader, ep.ID)
	req.Header.Set(TimestampHeader, now.Format(time.RFC3339))

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	d.Duration = time.Since(start)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	d.ResponseBody = string(body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Status = "success"
	} else {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}

// Retry sends a logged delivery again, once.
func (m *Manager) Retry(ctx context.Context, deliveryID string) (*Delivery, error) {
	orig, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := m.store.GetEndpoint(ctx, orig.EndpointID)
	if err != nil {
		return nil, err
	}
	var ev websocket.Event
	if err := json.Unmarshal(orig.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode logged payload: %w", err)
	}
	return m.send(ctx, ep, ev, orig.Attempt+1), nil
}

// Test sends a synthetic event to one endpoint regardless of its filters.
func (m *Manager) Test(ctx context.Context, endpointID string) (*Delivery, error) {
	ep, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	ev := websocket.Event{
		Type:      EventTest,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{"test":true}`),
	}
	return m.send(ctx, ep, ev, 1), nil
}
