package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/auth"
)

func newClient(hub *Hub, id string, roles []string, topics ...string) *Client {
	return &Client{
		ID:     id,
		Roles:  roles,
		Topics: topics,
		Send:   make(chan []byte, 16),
		hub:    hub,
	}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("client did not receive event")
	}
	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected event %s", msg)
	default:
	}
}

func TestHub_RegisterFiltersTopicsByRole(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c1", []string{auth.RoleBed}, TopicFor(task.RoleBed), TopicFor(task.RoleNurse), "Patient/1")
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicFor(task.RoleBed)) != 1 {
		t.Error("expected subscription to tasks.BED")
	}
	if hub.TopicCount(TopicFor(task.RoleNurse)) != 0 {
		t.Error("BED agent must not listen on tasks.NURSE")
	}
	if len(client.Topics) != 1 {
		t.Errorf("expected 1 topic, got %v", client.Topics)
	}
}

func TestHub_OperatorMayListenEverywhere(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "ops", []string{auth.RoleOperator})
	hub.Register(client)

	var topics []string
	for _, r := range task.Roles {
		topics = append(topics, TopicFor(r))
	}
	if denied := hub.Subscribe(client, topics); len(denied) != 0 {
		t.Fatalf("operator denied %v", denied)
	}
	for _, topic := range topics {
		if hub.TopicCount(topic) != 1 {
			t.Errorf("expected operator on %s", topic)
		}
	}
}

func TestHub_SubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c2", []string{auth.RoleCleaner})
	hub.Register(client)

	hub.Subscribe(client, []string{TopicFor(task.RoleCleaner)})
	hub.Subscribe(client, []string{TopicFor(task.RoleCleaner)})
	if len(client.Topics) != 1 {
		t.Errorf("expected one topic, got %v", client.Topics)
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c3", []string{auth.RoleNurse}, TopicFor(task.RoleNurse))
	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Error("expected Send to be closed")
	}
	if hub.ClientCount() != 0 || hub.TopicCount(TopicFor(task.RoleNurse)) != 0 {
		t.Error("expected hub to be empty")
	}
}

func TestHub_TaskEnqueued(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cleaner := newClient(hub, "cleaner", []string{auth.RoleCleaner}, TopicFor(task.RoleCleaner))
	nurse := newClient(hub, "nurse", []string{auth.RoleNurse}, TopicFor(task.RoleNurse))
	hub.Register(cleaner)
	hub.Register(nurse)

	bedID := uuid.New()
	tk := task.New(task.TypeCleaning, task.RoleCleaner, uuid.New(), &bedID, "")
	tk.ID = uuid.New()
	if err := hub.TaskEnqueued(context.Background(), tk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := receive(t, cleaner)
	if ev.Type != EventTaskEnqueued || ev.Topic != "tasks.CLEANER" || ev.TaskID != tk.ID.String() {
		t.Errorf("unexpected event %+v", ev)
	}
	var got task.Task
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("bad event data: %v", err)
	}
	if got.Type != task.TypeCleaning || got.BedID == nil || *got.BedID != bedID {
		t.Errorf("unexpected task in event %+v", got)
	}
	expectNothing(t, nurse)
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Roles: []string{auth.RoleBed}, Topics: []string{TopicFor(task.RoleBed)}, Send: make(chan []byte, 1)}
	hub.Register(client)

	ev := Event{Type: EventTaskEnqueued, Topic: TopicFor(task.RoleBed)}
	hub.Broadcast(ev.Topic, ev)
	hub.Broadcast(ev.Topic, ev)
	if len(client.Send) != 1 {
		t.Errorf("expected one buffered event, got %d", len(client.Send))
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(hub, uuid.NewString(), []string{auth.RoleBed}, TopicFor(task.RoleBed))
			hub.Register(c)
			hub.Broadcast(TopicFor(task.RoleBed), Event{Type: "ping"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c4", []string{auth.RoleMaster, auth.RoleBed})
	hub.Register(client)

	var msg ClientMessage
	_ = json.Unmarshal([]byte(`{"action":"subscribe","topics":["tasks.MASTER","tasks.BED","tasks.NURSE"]}`), &msg)
	hub.ProcessMessage(client, msg)
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", client.Topics)
	}

	_ = json.Unmarshal([]byte(`{"action":"unsubscribe","topics":["tasks.MASTER"]}`), &msg)
	hub.ProcessMessage(client, msg)
	if hub.TopicCount("tasks.MASTER") != 0 || hub.TopicCount("tasks.BED") != 1 {
		t.Errorf("unexpected subscriptions %v", client.Topics)
	}
}

func TestInitialTopics(t *testing.T) {
	got := initialTopics("", []string{auth.RoleNurse, "viewer", auth.RoleCleaner})
	if len(got) != 2 || got[0] != "tasks.CLEANER" || got[1] != "tasks.NURSE" {
		t.Errorf("unexpected default topics %v", got)
	}
	got = initialTopics(" tasks.BED , ,tasks.MASTER", nil)
	if len(got) != 2 || got[0] != "tasks.BED" || got[1] != "tasks.MASTER" {
		t.Errorf("unexpected explicit topics %v", got)
	}
}

func TestHandler_RequiresUpgrade(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), rec)

	err := h.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for a plain request")
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://ward.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	if h.upgrader.CheckOrigin(req) {
		t.Error("unexpected origin accepted")
	}
	req.Header.Set("Origin", "https://ward.example")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("configured origin rejected")
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), "cleaner-1", []string{auth.RoleCleaner})))
			return next(c)
		}
	})
	NewHandler(hub, nil).RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(TopicFor(task.RoleCleaner)) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed to tasks.CLEANER")
		}
		time.Sleep(10 * time.Millisecond)
	}

	tk := task.New(task.TypePostDischargeCleaning, task.RoleCleaner, uuid.New(), nil, "")
	tk.ID = uuid.New()
	if err := hub.TaskEnqueued(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if ev.TaskID != tk.ID.String() {
		t.Errorf("expected task %s, got %+v", tk.ID, ev)
	}
}
