package capture

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nshruti113/slice-sentinel/internal/models"
)

// Attack types produced by the generator
const (
	AttackSYNFlood  = "SYN_FLOOD"
	AttackUDPFlood  = "UDP_FLOOD"
	AttackHTTPFlood = "HTTP_FLOOD"
	AttackICMPFlood = "ICMP_FLOOD"
	AttackIoTFlood  = "IOT_FLOOD"
)

// AttackSequence is the demo rotation used by the simulator
var AttackSequence = []string{AttackHTTPFlood, AttackSYNFlood, AttackUDPFlood, AttackIoTFlood, AttackICMPFlood}

// Generator builds synthetic observations for demos and tests.
// Attack traffic is marked as simulated.
type Generator struct {
	target string
	mu     sync.Mutex
	rng    *rand.Rand
	now    func() time.Time
}

func NewGenerator(target string, seed int64) *Generator {
	if target == "" {
		target = "192.168.1.100"
	}
	return &Generator{
		target: target,
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

func (g *Generator) randomIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", g.intn(223)+1, g.intn(256), g.intn(256), g.intn(254)+1)
}

// Botnet returns size random source addresses
func (g *Generator) Botnet(size int) []string {
	ips := make([]string, size)
	for i := range ips {
		ips[i] = g.randomIP()
	}
	return ips
}

// Normal creates one benign observation across the three slice profiles
func (g *Generator) Normal() models.Observation {
	obs := models.Observation{
		SourceIP:   g.randomIP(),
		DestIP:     g.target,
		SourcePort: models.Port(g.intn(65535-1024) + 1024),
		Timestamp:  g.now(),
	}
	switch g.intn(3) {
	case 0:
		obs.Protocol = "TCP"
		obs.DestPort = models.Port(443)
		obs.Size = g.intn(600) + 900
	case 1:
		obs.Protocol = "UDP"
		obs.DestPort = models.Port(5060)
		obs.Size = g.intn(100) + 60
	default:
		obs.Protocol = "TCP"
		obs.DestPort = models.Port(1883)
		obs.Size = g.intn(200) + 200
	}
	return obs
}

// Attack creates count observations of the given attack type
func (g *Generator) Attack(kind string, count int) []models.Observation {
	var sources []string
	switch kind {
	case AttackSYNFlood:
		sources = []string{"203.0.113.10", "203.0.113.11", "203.0.113.12"}
	case AttackHTTPFlood:
		sources = g.Botnet(50)
	default:
		sources = g.Botnet(30)
	}

	out := make([]models.Observation, 0, count)
	for i := 0; i < count; i++ {
		obs := models.Observation{
			SourceIP:  sources[g.intn(len(sources))],
			DestIP:    g.target,
			Timestamp: g.now(),
			Simulated: true,
		}
		switch kind {
		case AttackSYNFlood:
			obs.Protocol = "TCP"
			obs.Size = 64
			obs.SourcePort = models.Port(g.intn(65535) + 1)
			obs.DestPort = models.Port(80)
		case AttackHTTPFlood:
			obs.Protocol = "TCP"
			obs.Size = g.intn(500) + 100
			obs.SourcePort = models.Port(g.intn(65535-1024) + 1024)
			obs.DestPort = models.Port(443)
		case AttackUDPFlood:
			obs.Protocol = "UDP"
			obs.Size = g.intn(1400) + 100
			obs.SourcePort = models.Port(g.intn(65535) + 1)
			obs.DestPort = models.Port(g.intn(65535) + 1)
		case AttackIoTFlood:
			obs.Protocol = "TCP"
			obs.Size = g.intn(100) + 40
			obs.SourcePort = models.Port(g.intn(65535-1024) + 1024)
			obs.DestPort = models.Port(1883)
		default:
			obs.Protocol = "ICMP"
			obs.Size = g.intn(900) + 100
		}
		out = append(out, obs)
	}
	return out
}

// SyntheticSource emits generated traffic in one second bursts: rate normal
// observations per burst, with an attack burst every attackEvery.
type SyntheticSource struct {
	gen         *Generator
	rate        int
	attackEvery time.Duration
	attackSize  int
	interval    time.Duration
}

func NewSyntheticSource(gen *Generator, rate int) *SyntheticSource {
	return &SyntheticSource{
		gen:         gen,
		rate:        rate,
		attackEvery: 10 * time.Second,
		attackSize:  200,
		interval:    time.Second,
	}
}

func (s *SyntheticSource) Run(ctx context.Context, emit func(models.Observation)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	attackIdx := 0
	lastAttack := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for i := 0; i < s.rate; i++ {
			if ctx.Err() != nil {
				return nil
			}
			emit(s.gen.Normal())
		}

		if time.Since(lastAttack) < s.attackEvery {
			continue
		}
		lastAttack = time.Now()
		kind := AttackSequence[attackIdx%len(AttackSequence)]
		attackIdx++
		for _, obs := range s.gen.Attack(kind, s.attackSize) {
			if ctx.Err() != nil {
				return nil
			}
			emit(obs)
		}
	}
}
