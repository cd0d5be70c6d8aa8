package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/nshruti113/slice-sentinel/internal/api"
	"github.com/nshruti113/slice-sentinel/internal/capture"
	"github.com/nshruti113/slice-sentinel/internal/models"
)

type Simulator struct {
	serverURL    string
	normalRate   int
	attackSize   int
	gen          *capture.Generator
	client       *http.Client
	attackActive bool
	attackType   string
}

func NewSimulator(serverURL string, normalRate, attackSize int) *Simulator {
	return &Simulator{
		serverURL:  serverURL,
		normalRate: normalRate,
		attackSize: attackSize,
		gen:        capture.NewGenerator("", time.Now().UnixNano()),
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// SendTraffic posts one observation to the ingest endpoint
func (s *Simulator) SendTraffic(obs models.Observation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, s.serverURL+"/api/traffic/ingest", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if obs.Simulated {
		req.Header.Set(api.SimulatedHeader, "true")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *Simulator) send(batch []models.Observation) {
	failed := 0
	for _, obs := range batch {
		if err := s.SendTraffic(obs); err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("⚠️ %d of %d observations failed to send", failed, len(batch))
	}
}

// Run cycles through the attack types, alternating attack and quiet periods
func (s *Simulator) Run(period time.Duration) {
	log.Println("🚀 Starting Traffic Simulator...")
	log.Printf("Generating normal traffic at %d obs/sec", s.normalRate)
	log.Println("🎯 DEMO MODE: Will cycle through all attack types")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	attackTicker := time.NewTicker(period)
	defer attackTicker.Stop()

	currentAttackIndex := 0
	s.attackActive = true
	s.attackType = capture.AttackSequence[0]
	log.Printf("⚠️  Starting %s attack", s.attackType)

	for {
		select {
		case <-ticker.C:
			batch := make([]models.Observation, 0, s.normalRate+s.attackSize)
			for i := 0; i < s.normalRate; i++ {
				batch = append(batch, s.gen.Normal())
			}
			if s.attackActive {
				batch = append(batch, s.gen.Attack(s.attackType, s.attackSize)...)
			}
			// sequential so per-source rates stay ordered at the server
			s.send(batch)

		case <-attackTicker.C:
			if s.attackActive {
				log.Println("✅ Attack stopped")
				s.attackActive = false
			} else {
				currentAttackIndex = (currentAttackIndex + 1) % len(capture.AttackSequence)
				s.attackActive = true
				s.attackType = capture.AttackSequence[currentAttackIndex]
				log.Printf("⚠️  Starting %s attack", s.attackType)
			}
		}
	}
}

func main() {
	serverURL := flag.String("server", "http://localhost:8888", "sentinel server URL")
	normalRate := flag.Int("rate", 20, "normal observations per second")
	attackSize := flag.Int("attack-size", 100, "attack observations per second")
	period := flag.Duration("period", 10*time.Second, "attack on/off period")
	flag.Parse()

	fmt.Println("Slice Sentinel - Traffic Simulator")
	fmt.Println("==================================")

	NewSimulator(*serverURL, *normalRate, *attackSize).Run(*period)
}
