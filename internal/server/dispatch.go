package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"rentline/internal/config"
	"rentline/internal/domain"
	"rentline/internal/heartbeat"
)

const (
	defaultDispatchInterval = 5 * time.Second
	defaultDispatchTimeout  = 5 * time.Second
	defaultDispatchBatch    = 100
)

// emailDispatcher drains the email queue to the configured delivery endpoint.
// Messages stay pending until the endpoint accepts them, so a flaky receiver
// just delays delivery.
type emailDispatcher struct {
	engine   heartbeat.Engine
	url      string
	interval time.Duration
	batch    int
	client   *http.Client
}

// StartEmailDispatcher launches the background queue drain. It is a no-op when
// no dispatch URL is configured.
func StartEmailDispatcher(e heartbeat.Engine, cfg *config.Config) {
	if cfg == nil || strings.TrimSpace(cfg.Email.DispatchURL) == "" {
		return
	}
	interval := defaultDispatchInterval
	if cfg.Email.IntervalSeconds > 0 {
		interval = time.Duration(cfg.Email.IntervalSeconds) * time.Second
	}
	batch := defaultDispatchBatch
	if cfg.Email.BatchSize > 0 {
		batch = cfg.Email.BatchSize
	}
	d := &emailDispatcher{
		engine:   e,
		url:      cfg.Email.DispatchURL,
		interval: interval,
		batch:    batch,
		client:   &http.Client{Timeout: defaultDispatchTimeout},
	}
	go d.run()
}

func (d *emailDispatcher) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchPending()
		<-ticker.C
	}
}

func (d *emailDispatcher) dispatchPending() {
	ctx := context.Background()
	pending, err := d.engine.Repo.PendingEmails(ctx, d.batch)
	if err != nil {
		log.Printf("email dispatch: fetch pending failed: %v", err)
		return
	}
	for _, msg := range pending {
		if err := d.postEmail(ctx, msg); err != nil {
			log.Printf("email dispatch: deliver %s failed: %v", msg.ID, err)
			return
		}
		sentAt := d.engine.Now().UTC().Format(time.RFC3339)
		if err := d.engine.Repo.MarkEmailSent(ctx, msg.ID, sentAt); err != nil {
			log.Printf("email dispatch: mark sent %s failed: %v", msg.ID, err)
			return
		}
	}
}

type emailPayload struct {
	ID        string          `json:"id"`
	Recipient string          `json:"recipient"`
	Template  string          `json:"template"`
	Params    json.RawMessage `json:"params"`
}

func (d *emailDispatcher) postEmail(ctx context.Context, msg domain.EmailMessage) error {
	params := json.RawMessage([]byte("{}"))
	if msg.ParamsJSON != "" && json.Valid([]byte(msg.ParamsJSON)) {
		params = json.RawMessage([]byte(msg.ParamsJSON))
	}
	data, err := json.Marshal(emailPayload{
		ID:        msg.ID,
		Recipient: msg.Recipient,
		Template:  msg.Template,
		Params:    params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rentline-Delivery", msg.ID)
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
