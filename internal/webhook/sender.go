package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
)

type WebhookEvent string

const (
	EventJobQueued           WebhookEvent = "job_queued"
	EventJobDropped          WebhookEvent = "job_dropped"
	EventJobFailed           WebhookEvent = "job_failed"
	EventJobStarted          WebhookEvent = "job_started"
	EventJobCompleted        WebhookEvent = "job_completed"
	EventJobAborted          WebhookEvent = "job_aborted"
	EventPrinterStateChanged WebhookEvent = "printer_state_changed"
)

var (
	ErrUnknownEndpoint = errors.New("unknown webhook endpoint")

	errShutdown = errors.New("shutdown requested")
)

const EventTest WebhookEvent = "test"

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

type PrinterStateData struct {
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	Timestamp     time.Time `json:"timestamp"`
}

type webhookTask struct {
	endpoint config.WebhookEndpoint
	event    WebhookEvent
	payload  *WebhookPayload
	attempt  int
}

type httpError struct {
	status int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error: %d", e.status)
}

// WebhookSender posts controller events to the configured endpoints. It
// implements core.Observer and never blocks the caller: when the queue is
// full the event is dropped.
type WebhookSender struct {
	endpoints   []config.WebhookEndpoint
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	logger      *zap.Logger
}

func NewWebhookSender(cfg config.WebhooksConfig, logger *zap.Logger) *WebhookSender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookSender{
		endpoints: cfg.Endpoints,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.WorkerCount,
		queue:       make(chan *webhookTask, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		logger:      logger.Named("webhook"),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *WebhookSender) StateChanged(from, to core.ConnectionState) {
	s.enqueue(EventPrinterStateChanged, &PrinterStateData{
		PreviousState: from.String(),
		NewState:      to.String(),
		Timestamp:     time.Now(),
	})
}

func (s *WebhookSender) JobEvent(ev core.JobEvent) {
	s.enqueue(WebhookEvent("job_"+string(ev.Type)), &JobEventData{
		JobID:      ev.JobID,
		Status:     string(ev.Type),
		Reason:     ev.Reason,
		Width:      ev.Width,
		Height:     ev.Height,
		Bytes:      ev.Bytes,
		Chunks:     ev.Chunks,
		DurationMs: ev.Duration.Milliseconds(),
	})
}

func subscribed(ep config.WebhookEndpoint, event WebhookEvent) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, e := range ep.Events {
		if e == string(event) || e == "*" {
			return true
		}
	}
	return false
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	for _, ep := range s.endpoints {
		if !subscribed(ep, event) {
			continue
		}
		task := &webhookTask{
			endpoint: ep,
			event:    event,
			payload: &WebhookPayload{
				Event:     string(event),
				Timestamp: time.Now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			s.logger.Warn("queue full, dropping webhook",
				zap.String("endpoint", ep.Name),
				zap.String("event", string(event)),
			)
		}
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				s.logger.Warn("failed to deliver webhook",
					zap.Int("worker", id),
					zap.String("endpoint", task.endpoint.Name),
					zap.String("event", string(task.event)),
					zap.Int("attempts", task.attempt),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.endpoint, task.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		var herr *httpError
		if errors.As(err, &herr) && herr.status < 500 {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.Debug("retrying webhook",
				zap.String("endpoint", task.endpoint.Name),
				zap.Int("attempt", task.attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			select {
			case <-s.stopCh:
				return errShutdown
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(ep config.WebhookEndpoint, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	signed := *payload
	if ep.Secret != "" {
		signed.Signature = Sign(dataBytes, ep.Secret)
	}

	body, err := json.Marshal(&signed)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", signed.Event)
	if signed.Signature != "" {
		req.Header.Set("X-Webhook-Signature", signed.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode}
	}
	return nil
}

func (s *WebhookSender) Endpoints() []config.WebhookEndpoint {
	return s.endpoints
}

// SendTest delivers a single unretried test event to the named endpoint.
func (s *WebhookSender) SendTest(name string) error {
	for _, ep := range s.endpoints {
		if ep.Name != name {
			continue
		}
		return s.sendRequest(ep, &WebhookPayload{
			Event:     string(EventTest),
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"message": "test delivery from catspool", "endpoint": name},
		})
	}
	return ErrUnknownEndpoint
}

// Sign returns the hex HMAC-SHA256 of the JSON encoded event data.
func Sign(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
