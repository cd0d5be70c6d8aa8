package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	trafficKey      = "traffic:recent"
	blockedKey      = "mitigation:blocked"
	historyKey      = "mitigation:history"
	sliceEventsKey  = "slices:events"
	alertsKey       = "alerts:recent"
	alertsChannel   = "alerts"
	sliceEventLimit = 1000
	alertLimit      = 100

	dialTimeout = time.Second
	ioTimeout   = 500 * time.Millisecond
)

type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(ctx context.Context, addr string, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(clientOptions(addr, password, db))

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// clientOptions keeps every command short: socket reads and writes time out
// on their own and also stop at the caller's ctx deadline.
func clientOptions(addr, password string, db int) *redis.Options {
	return &redis.Options{
		Addr:                  addr,
		Password:              password,
		DB:                    db,
		DialTimeout:           dialTimeout,
		ReadTimeout:           ioTimeout,
		WriteTimeout:          ioTimeout,
		PoolTimeout:           ioTimeout,
		ContextTimeoutEnabled: true,
	}
}

// RecordTraffic stores a processed observation and updates the per-minute counters
func (r *RedisClient) RecordTraffic(ctx context.Context, rec models.TelemetryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := r.client.ZAdd(ctx, trafficKey, redis.Z{
		Score:  float64(rec.TimestampMS),
		Member: string(data),
	}).Err(); err != nil {
		return err
	}

	// Keep only last 5 minutes of data
	fiveMinutesAgo := time.Now().Add(-5 * time.Minute).UnixMilli()
	r.client.ZRemRangeByScore(ctx, trafficKey, "-inf", strconv.FormatInt(fiveMinutesAgo, 10))

	r.updateCounters(ctx, rec)
	return nil
}

func metricsKey(t time.Time) string {
	return fmt.Sprintf("metrics:%d", t.Truncate(time.Minute).Unix())
}

func (r *RedisClient) updateCounters(ctx context.Context, rec models.TelemetryRecord) {
	key := metricsKey(time.UnixMilli(rec.TimestampMS))

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, "total_packets", 1)
	pipe.HIncrBy(ctx, key, "total_bytes", int64(rec.Size))
	if rec.IsMalicious {
		pipe.HIncrBy(ctx, key, "malicious_packets", 1)
	}
	pipe.HIncrBy(ctx, key, "protocol:"+rec.Protocol, 1)
	pipe.HIncrBy(ctx, key, "slice:"+string(rec.Slice), 1)
	pipe.PFAdd(ctx, key+":unique_ips", rec.SourceIP)
	pipe.ZIncrBy(ctx, key+":ip_counts", 1, rec.SourceIP)

	// Set expiration (keep for 1 hour)
	pipe.Expire(ctx, key, time.Hour)
	pipe.Expire(ctx, key+":unique_ips", time.Hour)
	pipe.Expire(ctx, key+":ip_counts", time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Error updating counters: %v", err)
	}
}

// GetRecentTraffic retrieves traffic from the last N seconds
func (r *RedisClient) GetRecentTraffic(ctx context.Context, seconds int) ([]models.TelemetryRecord, error) {
	since := time.Now().Add(-time.Duration(seconds) * time.Second).UnixMilli()

	results, err := r.client.ZRangeByScore(ctx, trafficKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.TelemetryRecord, 0, len(results))
	for _, result := range results {
		var rec models.TelemetryRecord
		if err := json.Unmarshal([]byte(result), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetMetrics retrieves aggregated metrics for the minute containing windowStart
func (r *RedisClient) GetMetrics(ctx context.Context, windowStart time.Time) (*models.Metrics, error) {
	key := metricsKey(windowStart)

	data, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no metrics found for %s", key)
	}

	uniqueIPs, err := r.client.PFCount(ctx, key+":unique_ips").Result()
	if err != nil {
		uniqueIPs = 0
	}

	metrics := &models.Metrics{
		Timestamp:         windowStart.Truncate(time.Minute),
		WindowDuration:    60,
		UniqueIPs:         int(uniqueIPs),
		ProtocolBreakdown: make(map[string]int),
		SliceBreakdown:    make(map[models.SliceID]int),
	}

	var totalBytes int
	for field, value := range data {
		n, _ := strconv.Atoi(value)
		switch {
		case field == "total_packets":
			metrics.TotalPackets = n
		case field == "total_bytes":
			totalBytes = n
		case field == "malicious_packets":
			metrics.MaliciousPackets = n
		case strings.HasPrefix(field, "protocol:"):
			metrics.ProtocolBreakdown[strings.TrimPrefix(field, "protocol:")] = n
		case strings.HasPrefix(field, "slice:"):
			metrics.SliceBreakdown[models.SliceID(strings.TrimPrefix(field, "slice:"))] = n
		}
	}
	metrics.PacketsPerSec = float64(metrics.TotalPackets) / 60.0
	metrics.BytesPerSec = float64(totalBytes) / 60.0

	topIPsData, err := r.client.ZRevRangeWithScores(ctx, key+":ip_counts", 0, 9).Result()
	if err != nil {
		return metrics, nil
	}
	metrics.TopIPs = make([]models.IPCount, 0, len(topIPsData))
	for _, z := range topIPsData {
		ip, _ := z.Member.(string)
		count := int(z.Score)
		pct := 0.0
		if metrics.TotalPackets > 0 {
			pct = float64(count) / float64(metrics.TotalPackets) * 100
		}
		metrics.TopIPs = append(metrics.TopIPs, models.IPCount{IP: ip, Count: count, Percentage: pct})
	}
	return metrics, nil
}

type mitigationEvent struct {
	IP     string    `json:"ip"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

func (r *RedisClient) appendHistory(ctx context.Context, ev mitigationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.ZAdd(ctx, historyKey, redis.Z{
		Score:  float64(ev.At.UnixMilli()),
		Member: string(data),
	}).Err()
}

// RecordBlock marks ip as blocked unless a detailed record already exists
func (r *RedisClient) RecordBlock(ctx context.Context, ip string, at time.Time) error {
	data, err := json.Marshal(models.BlockRecord{IP: ip, BlockedAt: at})
	if err != nil {
		return err
	}
	if err := r.client.HSetNX(ctx, blockedKey, ip, string(data)).Err(); err != nil {
		return err
	}
	return r.appendHistory(ctx, mitigationEvent{IP: ip, Action: "block", At: at})
}

// RecordUnblock removes ip from the blocked hash
func (r *RedisClient) RecordUnblock(ctx context.Context, ip string) error {
	if err := r.client.HDel(ctx, blockedKey, ip).Err(); err != nil {
		return err
	}
	return r.appendHistory(ctx, mitigationEvent{IP: ip, Action: "unblock", At: time.Now()})
}

// StoreBlockRecord saves the detailed record of a block
func (r *RedisClient) StoreBlockRecord(ctx context.Context, rec models.BlockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, blockedKey, rec.IP, string(data)).Err()
}

// GetBlocked returns every stored block record
func (r *RedisClient) GetBlocked(ctx context.Context) ([]models.BlockRecord, error) {
	data, err := r.client.HGetAll(ctx, blockedKey).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.BlockRecord, 0, len(data))
	for _, raw := range data {
		var rec models.BlockRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// RecordSliceEvent stores a slice transition and raises an alert for it
func (r *RedisClient) RecordSliceEvent(ctx context.Context, event models.SliceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := r.client.ZAdd(ctx, sliceEventsKey, redis.Z{
		Score:  float64(event.Timestamp.UnixMilli()),
		Member: string(data),
	}).Err(); err != nil {
		return err
	}
	r.client.ZRemRangeByRank(ctx, sliceEventsKey, 0, -sliceEventLimit-1)

	level := "INFO"
	if event.Kind == models.EventIsolated || event.Kind == models.EventForceRestored {
		level = "CRITICAL"
	}
	return r.StoreAlert(ctx, models.Alert{
		ID:        event.ID,
		Level:     level,
		Title:     fmt.Sprintf("Slice %s %s", event.Slice, strings.ReplaceAll(string(event.Kind), "_", " ")),
		Message:   event.Reason,
		Slice:     event.Slice,
		Timestamp: event.Timestamp,
	})
}

// SliceEvents returns the newest n slice events, newest first
func (r *RedisClient) SliceEvents(ctx context.Context, n int) ([]models.SliceEvent, error) {
	results, err := r.client.ZRevRange(ctx, sliceEventsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.SliceEvent, 0, len(results))
	for _, raw := range results {
		var ev models.SliceEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// StoreAlert keeps the alert in the recent list and publishes it
func (r *RedisClient) StoreAlert(ctx context.Context, alert models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, alertsKey, string(data))
	pipe.LTrim(ctx, alertsKey, 0, alertLimit-1)
	pipe.Publish(ctx, alertsChannel, string(data))
	_, err = pipe.Exec(ctx)
	return err
}

// RecentAlerts returns the newest n alerts, newest first
func (r *RedisClient) RecentAlerts(ctx context.Context, n int) ([]models.Alert, error) {
	results, err := r.client.LRange(ctx, alertsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(results))
	for _, raw := range results {
		var alert models.Alert
		if err := json.Unmarshal([]byte(raw), &alert); err != nil {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
