package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/bms-assistant/internal/db"
	"github.com/ziadkadry99/bms-assistant/internal/session"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func setupEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func volts(v float64) *float64 { return &v }

func TestEngineRules(t *testing.T) {
	e := setupEngine(t)

	tests := []struct {
		name     string
		ev       Event
		rule     string
		priority Priority
		channels int
		message  string
	}{
		{
			name:     "critical alarm",
			ev:       Event{Type: EventAlarm, DeviceName: "Chiller 1", Severity: "critical", Message: "High Temperature"},
			rule:     "critical_alarm",
			priority: PriorityHigh,
			channels: 3,
			message:  "CRITICAL ALARM: Chiller 1 - High Temperature",
		},
		{
			name:     "offline",
			ev:       Event{Type: EventDeviceStatus, DeviceName: "Basement Pump 3", Status: "OFFLINE", OfflineFor: 73 * time.Hour},
			rule:     "device_offline",
			priority: PriorityMedium,
			channels: 2,
			message:  "Device Offline: Basement Pump 3 has been offline for 3d 1h",
		},
		{
			name:     "battery",
			ev:       Event{Type: EventBattery, Battery: volts(2.81)},
			rule:     "battery_low",
			priority: PriorityLow,
			channels: 1,
			message:  "Low Battery: Unknown Device battery at 2.81V",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := e.Evaluate(tt.ev)
			if !ok {
				t.Fatal("expected a notification")
			}
			if n.Rule != tt.rule || n.Priority != tt.priority {
				t.Errorf("got rule %q priority %q", n.Rule, n.Priority)
			}
			if len(n.Channels) != tt.channels {
				t.Errorf("channels = %v", n.Channels)
			}
			if n.Message != tt.message {
				t.Errorf("message = %q, want %q", n.Message, tt.message)
			}
		})
	}
}

func TestEngineNoMatch(t *testing.T) {
	e := setupEngine(t)
	for _, ev := range []Event{
		{Type: EventAlarm, Severity: "MAJOR"},
		{Type: EventDeviceStatus, Status: "online"},
		{Type: EventBattery},
		{Type: EventBattery, Battery: volts(3.2)},
		{},
	} {
		if n, ok := e.Evaluate(ev); ok {
			t.Errorf("event %+v unexpectedly fired %q", ev, n.Rule)
		}
	}
}

func TestEngineCustomRule(t *testing.T) {
	e, err := NewEngine(Rule{
		Name:      "long_outage",
		Condition: `kind == "device_status" && offline_hours > 48.0`,
		Priority:  PriorityHigh,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, ok := e.Evaluate(Event{Type: EventDeviceStatus, OfflineFor: time.Hour, Message: "x"}); ok {
		t.Error("one hour should not fire")
	}
	n, ok := e.Evaluate(Event{Type: EventDeviceStatus, OfflineFor: 50 * time.Hour, Message: "pump down"})
	if !ok || n.Message != "pump down" {
		t.Errorf("expected custom rule with default message, got %+v", n)
	}
}

func TestEngineRejectsBadConditions(t *testing.T) {
	if _, err := NewEngine(Rule{Name: "syntax", Condition: `kind ==`}); err == nil {
		t.Error("expected compile error")
	}
	if _, err := NewEngine(Rule{Name: "type", Condition: `battery + 1.0`}); err == nil {
		t.Error("expected non-boolean condition error")
	}
	if _, err := NewEngine(Rule{Name: "unknown", Condition: `temperature > 3.0`}); err == nil {
		t.Error("expected undeclared variable error")
	}
}

func TestFormatForRole(t *testing.T) {
	n := Notification{Message: "CRITICAL ALARM: Chiller 1 - High Temperature"}
	if got := FormatForRole(n, "user"); got != n.Message {
		t.Errorf("plain role should be unchanged, got %q", got)
	}
	if got := FormatForRole(n, "admin"); !strings.Contains(got, "Acknowledge alarm") {
		t.Errorf("admin actions missing: %q", got)
	}
	if got := FormatForRole(n, "technician"); !strings.Contains(got, "Request parts") {
		t.Errorf("technician actions missing: %q", got)
	}
}

func TestPriorityAtLeast(t *testing.T) {
	tests := []struct {
		p, min Priority
		want   bool
	}{
		{PriorityHigh, PriorityLow, true},
		{PriorityMedium, PriorityMedium, true},
		{PriorityLow, PriorityMedium, false},
		{PriorityLow, "", true},
	}
	for _, tt := range tests {
		if got := tt.p.AtLeast(tt.min); got != tt.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.p, tt.min, got, tt.want)
		}
	}
}

func testNotification(user string, p Priority) Notification {
	return Notification{
		UserID:     user,
		Rule:       "critical_alarm",
		Type:       EventAlarm,
		Priority:   p,
		DeviceID:   "d1",
		DeviceName: "Chiller 1",
		Message:    "CRITICAL ALARM: Chiller 1 - High Temperature",
		Channels:   []string{ChannelImmediate, ChannelEmail},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.Create(ctx, testNotification("alice", PriorityHigh))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", n)
	}

	got, err := store.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DeviceName != "Chiller 1" || got.Delivered {
		t.Errorf("unexpected record %+v", got)
	}
	if len(got.Channels) != 2 || got.Channels[1] != ChannelEmail {
		t.Errorf("Channels = %v", got.Channels)
	}

	if _, err := store.GetByID(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, p := range []Priority{PriorityHigh, PriorityLow, PriorityMedium} {
		n := testNotification("alice", p)
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := store.Create(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	other := testNotification("bob", PriorityHigh)
	other.CreatedAt = base.Add(-48 * time.Hour)
	if _, err := store.Create(ctx, other); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 || all[0].Priority != PriorityMedium {
		t.Errorf("expected 4 newest-first, got %d (first %q)", len(all), all[0].Priority)
	}

	alice, _ := store.List(ctx, ListFilter{UserID: "alice"})
	if len(alice) != 3 {
		t.Errorf("user filter: got %d", len(alice))
	}
	high, _ := store.List(ctx, ListFilter{Priority: PriorityHigh})
	if len(high) != 2 {
		t.Errorf("priority filter: got %d", len(high))
	}
	recent, _ := store.List(ctx, ListFilter{Since: base.Add(-time.Minute)})
	if len(recent) != 3 {
		t.Errorf("since filter: got %d", len(recent))
	}
	page, _ := store.List(ctx, ListFilter{Limit: 2, Offset: 1})
	if len(page) != 2 {
		t.Errorf("paging: got %d", len(page))
	}
}

func TestStoreMarkDeliveredAndPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, testNotification("alice", PriorityHigh))
	if _, err := store.Create(ctx, testNotification("alice", PriorityLow)); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkDelivered(ctx, a.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := store.MarkDelivered(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	pending, err := store.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Priority != PriorityLow {
		t.Errorf("pending = %+v", pending)
	}
}

func TestPreferenceCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetPreference(ctx, Preference{UserID: "alice", Channel: ChannelWebhook, WebhookURL: "http://a", Enabled: true}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := store.SetPreference(ctx, Preference{UserID: "alice", Channel: ChannelWebhook, WebhookURL: "http://b", MinPriority: PriorityHigh, Enabled: true}); err != nil {
		t.Fatalf("SetPreference update: %v", err)
	}

	prefs, err := store.GetPreferences(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if len(prefs) != 1 || prefs[0].WebhookURL != "http://b" || prefs[0].MinPriority != PriorityHigh || !prefs[0].Enabled {
		t.Errorf("prefs = %+v", prefs)
	}

	none, err := store.GetPreferences(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("expected no prefs, got %v %v", none, err)
	}
}

type webhookRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (wr *webhookRecorder) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	wr.mu.Lock()
	wr.bodies = append(wr.bodies, body)
	wr.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (wr *webhookRecorder) count() int {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return len(wr.bodies)
}

func TestDispatcherNotify(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := &webhookRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	sessions := session.NewStore()
	sessions.UpdateContext(ctx, "alice", func(c *session.Context) { c.Role = "admin" })
	if err := store.SetPreference(ctx, Preference{UserID: "alice", Channel: ChannelWebhook, WebhookURL: srv.URL, MinPriority: PriorityMedium, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(setupEngine(t), store, sessions, nil)

	n, err := d.Notify(ctx, "alice", Event{Type: EventAlarm, DeviceName: "Chiller 1", Severity: "CRITICAL", Message: "High Temperature"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n == nil || !n.Delivered {
		t.Fatalf("expected delivered notification, got %+v", n)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 webhook call, got %d", rec.count())
	}
	var sent Notification
	if err := json.Unmarshal(rec.bodies[0], &sent); err != nil || sent.Rule != "critical_alarm" {
		t.Errorf("webhook body = %s (%v)", rec.bodies[0], err)
	}

	inbox := sessions.Notifications(ctx, "alice")
	if len(inbox) != 1 {
		t.Fatalf("expected 1 session notification, got %d", len(inbox))
	}
	payload := inbox[0].Payload.(map[string]any)
	if !strings.Contains(payload["message"].(string), "Admin Actions Available") {
		t.Errorf("expected admin formatting, got %q", payload["message"])
	}

	// Below the webhook threshold: stored and queued, but no webhook.
	if _, err := d.Notify(ctx, "alice", Event{Type: EventBattery, Battery: volts(2.5)}); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 1 {
		t.Errorf("low priority should not reach the webhook, got %d calls", rec.count())
	}

	// No rule fires.
	n, err = d.Notify(ctx, "alice", Event{Type: EventAlarm, Severity: "MINOR"})
	if err != nil || n != nil {
		t.Errorf("expected nothing, got %+v %v", n, err)
	}

	stored, _ := store.List(ctx, ListFilter{UserID: "alice"})
	if len(stored) != 2 {
		t.Errorf("expected 2 stored notifications, got %d", len(stored))
	}
}

func TestDispatcherWithoutStore(t *testing.T) {
	d := NewDispatcher(setupEngine(t), nil, nil, nil)
	n, err := d.Notify(context.Background(), "", Event{Type: EventDeviceStatus, Status: "offline"})
	if err != nil || n == nil {
		t.Fatalf("Notify: %+v %v", n, err)
	}
	if n.Delivered {
		t.Error("nothing should be delivered without inbox or store")
	}
	if _, err := d.GenerateDigest(context.Background(), "x", time.Now()); err == nil {
		t.Error("expected digest error without store")
	}
}

func TestDigestGeneration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	d := NewDispatcher(setupEngine(t), store, nil, nil)

	for _, p := range []Priority{PriorityHigh, PriorityHigh, PriorityLow} {
		if _, err := store.Create(ctx, testNotification("alice", p)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Create(ctx, testNotification("bob", PriorityMedium)); err != nil {
		t.Fatal(err)
	}

	digest, err := d.GenerateDigest(ctx, "alice", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GenerateDigest: %v", err)
	}
	if len(digest.Notifications) != 3 {
		t.Errorf("expected 3 notifications, got %d", len(digest.Notifications))
	}
	if digest.ByPriority[PriorityHigh] != 2 {
		t.Errorf("ByPriority = %v", digest.ByPriority)
	}
	if !strings.HasPrefix(digest.Summary, "3 notification(s) for alice") {
		t.Errorf("Summary = %q", digest.Summary)
	}
}

func TestHTTPHandlers(t *testing.T) {
	store := setupTestStore(t)
	d := NewDispatcher(setupEngine(t), store, session.NewStore(), nil)
	r := chi.NewRouter()
	RegisterRoutes(r, store, d)
	srv := httptest.NewServer(r)
	defer srv.Close()

	post := func(path, body string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := post("/api/notifications/events", `{"user_id":"alice","type":"device_status","status":"offline","device_name":"Basement Pump 3"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("events: status %d", resp.StatusCode)
	}
	var created Notification
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.Rule != "device_offline" {
		t.Errorf("created = %+v", created)
	}

	resp = post("/api/notifications/events", `{"type":"alarm","severity":"MINOR"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("no-match event: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post("/api/notifications/events", `{"type":"battery","battery":2.4,"device_name":"Lobby PIR Sensor"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("anonymous battery event: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post("/api/notifications/events", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing type: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/api/notifications/?user_id=alice")
	var list []Notification
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 {
		t.Errorf("list: got %d", len(list))
	}

	resp, _ = http.Get(srv.URL + "/api/notifications/" + created.ID)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp, _ = http.Get(srv.URL + "/api/notifications/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get missing: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/notifications/preferences",
		bytes.NewBufferString(`{"user_id":"alice","channel":"webhook","webhook_url":"http://x","min_priority":"urgent"}`))
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad priority: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/notifications/preferences",
		bytes.NewBufferString(`{"user_id":"alice","channel":"email","min_priority":"high","enabled":true}`))
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("set preference: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/api/notifications/preferences/alice")
	var prefs []Preference
	json.NewDecoder(resp.Body).Decode(&prefs)
	resp.Body.Close()
	if len(prefs) != 1 || prefs[0].Channel != "email" {
		t.Errorf("prefs = %+v", prefs)
	}

	resp, _ = http.Get(srv.URL + "/api/notifications/digest/alice")
	var digest Digest
	json.NewDecoder(resp.Body).Decode(&digest)
	resp.Body.Close()
	if len(digest.Notifications) != 1 {
		t.Errorf("digest = %+v", digest)
	}

	resp, _ = http.Get(srv.URL + "/api/notifications/pending")
	var pending []Notification
	json.NewDecoder(resp.Body).Decode(&pending)
	resp.Body.Close()
	if len(pending) != 1 {
		t.Errorf("expected the anonymous notification pending, got %d", len(pending))
	}
}
