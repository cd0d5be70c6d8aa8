package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nshruti113/slice-sentinel/internal/models"
)

const DefaultSubject = "sentinel.blocked"

// Notifier announces a newly blocked source to downstream consumers
type Notifier interface {
	NotifyBlocked(ctx context.Context, record models.BlockRecord) error
}

// HTTPNotifier posts block records to a dashboard endpoint
type HTTPNotifier struct {
	url    string
	client *http.Client
}

func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *HTTPNotifier) NotifyBlocked(ctx context.Context, record models.BlockRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal block record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify %s: %w", n.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify %s: HTTP %d", n.url, resp.StatusCode)
	}
	return nil
}

// Conn is the part of a NATS connection the publisher needs
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes block records on a NATS subject
type NATSPublisher struct {
	nc      Conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", url)
	return NewNATSPublisherWithConn(nc, subject), nil
}

func NewNATSPublisherWithConn(nc Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) NotifyBlocked(ctx context.Context, record models.BlockRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal block record: %w", err)
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}

// Multi delivers to every notifier and joins their errors
type Multi []Notifier

func (m Multi) NotifyBlocked(ctx context.Context, record models.BlockRecord) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyBlocked(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
