package mitigation

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/nshruti113/slice-sentinel/internal/sdn"
)

const (
	// BlockPriority sits above normal forwarding and below slice isolation rules
	BlockPriority = 60000

	recordTimeout = 250 * time.Millisecond
)

// FlowWriter installs and removes switch flow entries
type FlowWriter interface {
	InstallFlow(ctx context.Context, rule sdn.FlowRule) error
	DeleteFlow(ctx context.Context, rule sdn.FlowRule) error
}

// Recorder persists mitigation changes for the dashboard
type Recorder interface {
	RecordBlock(ctx context.Context, ip string, at time.Time) error
	RecordUnblock(ctx context.Context, ip string) error
}

// BlockedEntry is one element of the blocked set snapshot
type BlockedEntry struct {
	IP        string    `json:"ip"`
	BlockedAt time.Time `json:"blocked_at"`
}

// Controller owns the set of blocked sources. An address is in the set only
// while the last successful SDN call for it installed the drop rule.
type Controller struct {
	flows      FlowWriter
	datapathID int
	timeout    time.Duration
	recorder   Recorder
	now        func() time.Time

	mu      sync.RWMutex
	blocked map[string]time.Time
	// installs in flight, closed when the SDN call returns
	pending map[string]chan struct{}
}

func NewController(flows FlowWriter, datapathID int, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Controller{
		flows:      flows,
		datapathID: datapathID,
		timeout:    timeout,
		now:        time.Now,
		blocked:    make(map[string]time.Time),
		pending:    make(map[string]chan struct{}),
	}
}

// SetRecorder attaches an optional audit store
func (c *Controller) SetRecorder(r Recorder) {
	c.recorder = r
}

// Block drops all traffic from ip. Already blocked addresses return true
// without contacting the controller.
func (c *Controller) Block(ctx context.Context, ip string) bool {
	blocked, _ := c.BlockSource(ctx, ip)
	return blocked
}

// BlockSource is Block that also reports whether this call added ip to the
// blocked set. Concurrent calls for one address share a single install; only
// the caller that issued it sees added.
func (c *Controller) BlockSource(ctx context.Context, ip string) (blocked, added bool) {
	if ip == "" {
		return false, false
	}

	c.mu.Lock()
	if _, ok := c.blocked[ip]; ok {
		c.mu.Unlock()
		return true, false
	}
	if wait, ok := c.pending[ip]; ok {
		c.mu.Unlock()
		select {
		case <-wait:
			return c.IsBlocked(ip), false
		case <-ctx.Done():
			return false, false
		}
	}
	done := make(chan struct{})
	c.pending[ip] = done
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.flows.InstallFlow(callCtx, sdn.DropSource(c.datapathID, BlockPriority, ip))
	cancel()

	at := c.now()
	c.mu.Lock()
	if err == nil {
		c.blocked[ip] = at
	}
	delete(c.pending, ip)
	close(done)
	c.mu.Unlock()

	if err != nil {
		log.Printf("SDN block failed for %s: %v", ip, err)
		return false, false
	}
	log.Printf("🛑 BLOCKED %s → SDN DROP RULE ADDED", ip)

	if c.recorder != nil {
		recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		if err := c.recorder.RecordBlock(recCtx, ip, at); err != nil {
			log.Printf("Error recording block of %s: %v", ip, err)
		}
		cancel()
	}
	return true, true
}

// Unblock removes the drop rule for ip. The address leaves the blocked set
// only after the controller confirms the delete.
func (c *Controller) Unblock(ctx context.Context, ip string) bool {
	if ip == "" {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.flows.DeleteFlow(callCtx, sdn.DropSource(c.datapathID, BlockPriority, ip)); err != nil {
		log.Printf("SDN unblock failed for %s: %v", ip, err)
		return false
	}

	c.mu.Lock()
	delete(c.blocked, ip)
	c.mu.Unlock()
	log.Printf("✅ UNBLOCKED %s → SDN DROP RULE REMOVED", ip)

	if c.recorder != nil {
		recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		if err := c.recorder.RecordUnblock(recCtx, ip); err != nil {
			log.Printf("Error recording unblock of %s: %v", ip, err)
		}
		cancel()
	}
	return true
}

func (c *Controller) IsBlocked(ip string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocked[ip]
	return ok
}

// Blocked returns a snapshot of the blocked set ordered by block time
func (c *Controller) Blocked() []BlockedEntry {
	c.mu.RLock()
	entries := make([]BlockedEntry, 0, len(c.blocked))
	for ip, at := range c.blocked {
		entries = append(entries, BlockedEntry{IP: ip, BlockedAt: at})
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BlockedAt.Equal(entries[j].BlockedAt) {
			return entries[i].IP < entries[j].IP
		}
		return entries[i].BlockedAt.Before(entries[j].BlockedAt)
	})
	return entries
}

func (c *Controller) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocked)
}
