package detection

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/nshruti113/slice-sentinel/internal/models"
)

const (
	simulatedConfidence = 0.99
	attackLabel         = 1
)

// Scorer is a trained model treated as a black box.
type Scorer interface {
	// InputWidth is the feature vector length the model expects.
	InputWidth() int
	// Predict returns the predicted label and the probability of that label.
	Predict(features []float64) (label int, probability float64, err error)
}

// Thresholds tune the classifier verdicts
type Thresholds struct {
	FallbackPPS      float64
	ScorerConfidence float64
}

// Classifier decides whether an observation is malicious
type Classifier struct {
	scorer     Scorer
	thresholds Thresholds

	mu    sync.RWMutex
	force map[string]bool
}

// NewClassifier creates a classifier. A nil scorer enables the rate fallback.
func NewClassifier(scorer Scorer, thresholds Thresholds) *Classifier {
	if thresholds.FallbackPPS <= 0 {
		thresholds.FallbackPPS = 50
	}
	if thresholds.ScorerConfidence <= 0 {
		thresholds.ScorerConfidence = 0.7
	}
	return &Classifier{
		scorer:     scorer,
		thresholds: thresholds,
		force:      make(map[string]bool),
	}
}

// ScorerActive reports whether a model is loaded
func (c *Classifier) ScorerActive() bool {
	return c.scorer != nil
}

// ForceMalicious marks ip as always malicious
func (c *Classifier) ForceMalicious(ip string) {
	c.mu.Lock()
	c.force[ip] = true
	c.mu.Unlock()
}

func (c *Classifier) ClearForceMalicious(ip string) {
	c.mu.Lock()
	delete(c.force, ip)
	c.mu.Unlock()
}

// ForcedIPs returns the current override list
func (c *Classifier) ForcedIPs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ips := make([]string, 0, len(c.force))
	for ip := range c.force {
		ips = append(ips, ip)
	}
	return ips
}

func (c *Classifier) isForced(ip string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.force[ip]
}

// Classify returns the verdict for one observation at the given rate
func (c *Classifier) Classify(obs models.Observation, pps float64) models.ClassificationResult {
	if obs.Simulated {
		return models.ClassificationResult{
			IsMalicious: true,
			Confidence:  simulatedConfidence,
			Reason:      fmt.Sprintf("Simulated attack traffic (%s)", obs.Protocol),
		}
	}

	if c.isForced(obs.SourceIP) {
		return models.ClassificationResult{
			IsMalicious: true,
			Confidence:  1.0,
			Reason:      "Source on force-malicious list",
		}
	}

	if c.scorer == nil {
		return c.fallback(obs, pps)
	}
	return c.score(obs, pps)
}

func (c *Classifier) fallback(obs models.Observation, pps float64) models.ClassificationResult {
	limit := c.thresholds.FallbackPPS
	if pps > limit {
		return models.ClassificationResult{
			IsMalicious: true,
			Confidence:  math.Min(pps/(limit*2), 1.0),
			Reason:      fmt.Sprintf("DDoS Flood (%.0f pps, %s)", pps, obs.Protocol),
		}
	}
	return models.ClassificationResult{Reason: "rate below fallback threshold"}
}

func (c *Classifier) score(obs models.Observation, pps float64) (result models.ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scorer panic for %s: %v", obs.SourceIP, r)
			result = models.ClassificationResult{Reason: "scorer failure"}
		}
	}()

	features := BuildFeatures(obs.Size, pps, c.scorer.InputWidth())
	label, prob, err := c.scorer.Predict(features)
	if err != nil {
		log.Printf("Scorer error for %s: %v", obs.SourceIP, err)
		return models.ClassificationResult{Reason: "scorer failure"}
	}

	if label == attackLabel && prob > c.thresholds.ScorerConfidence {
		return models.ClassificationResult{
			IsMalicious: true,
			Confidence:  clamp01(prob),
			Reason:      fmt.Sprintf("DDoS Flood (%.0f pps, %s, model p=%.2f)", pps, obs.Protocol, prob),
		}
	}
	return models.ClassificationResult{
		Confidence: clamp01(prob),
		Reason:     "model verdict benign",
	}
}

// BuildFeatures produces the fixed-shape model input. Only pps and size
// carry signal; the remaining slots are constant placeholders the model
// was trained with.
func BuildFeatures(size int, pps float64, width int) []float64 {
	base := []float64{
		1,                     // packet count
		pps,                   // packets per second
		float64(size) / 100.0, // scaled packet size
		0.5,                   // protocol entropy
		0.3,                   // source port entropy
		10.0,                  // flow duration
		1,                     // SYN flag
		1,                     // ACK flag
		1,                     // is TCP
	}
	if width < 0 {
		width = 0
	}
	if len(base) >= width {
		return base[:width]
	}
	return append(base, make([]float64, width-len(base))...)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
