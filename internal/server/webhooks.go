package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"teamboard/internal/config"
	"teamboard/internal/domain"
	"teamboard/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher tails the event log and posts matching events to the
// configured receivers. Each hook keeps its own cursor, starting at the
// newest event when the dispatcher first sees it.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	interval time.Duration
	log      logrus.FieldLogger
	client   *http.Client

	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(e engine.Engine, hooks []config.WebhookConfig, log logrus.FieldLogger) *WebhookDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		interval: defaultWebhookInterval,
		log:      log.WithField("component", "webhooks"),
		client:   &http.Client{},
		cursors:  make(map[int]int64),
	}
}

// StartWebhooks runs a dispatcher until ctx is cancelled. It is a no-op
// when no hook is enabled.
func StartWebhooks(ctx context.Context, e engine.Engine, hooks []config.WebhookConfig, log logrus.FieldLogger) *WebhookDispatcher {
	d := NewWebhookDispatcher(e, hooks, log)
	if !d.hasEnabled() {
		return d
	}
	go d.Run(ctx)
	return d
}

func (d *WebhookDispatcher) hasEnabled() bool {
	for _, hook := range d.webhooks {
		if hook.IsEnabled() && strings.TrimSpace(hook.URL) != "" {
			return true
		}
	}
	return false
}

func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch per hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	var wg conc.WaitGroup
	for i, hook := range d.webhooks {
		if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		i, hook := i, hook
		wg.Go(func() { d.dispatchWebhook(ctx, i, hook) })
	}
	wg.Wait()
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	log := d.log.WithFields(logrus.Fields{"hook": hook.Name, "url": hook.URL})
	cursor := d.cursorFor(ctx, idx, hook)
	events, err := d.engine.EventsAfter(ctx, hook.Team, defaultWebhookBatch, cursor)
	if err != nil {
		log.WithError(err).Warn("fetch events failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			log.WithError(err).WithField("event_id", evt.ID).Warn("delivery failed")
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int, hook config.WebhookConfig) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.LatestEventID(ctx, hook.Team)
	if err != nil {
		d.log.WithError(err).Warn("init cursor failed")
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	TeamID     string          `json:"team_id,omitempty"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		TeamID:     evt.TeamID,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, hook.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Teamboard-Event", evt.Type)
	req.Header.Set("X-Teamboard-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.TeamID != "" {
		req.Header.Set("X-Teamboard-Team", evt.TeamID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Teamboard-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
