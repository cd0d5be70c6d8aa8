package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RemoteScorer calls a model-serving endpoint over HTTP.
type RemoteScorer struct {
	url    string
	width  int
	client *http.Client
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
}

func NewRemoteScorer(url string, width int, timeout time.Duration) *RemoteScorer {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RemoteScorer{
		url:    url,
		width:  width,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *RemoteScorer) InputWidth() int {
	return s.width
}

func (s *RemoteScorer) Predict(features []float64) (int, float64, error) {
	if len(features) != s.width {
		return 0, 0, fmt.Errorf("feature width %d, model expects %d", len(features), s.width)
	}
	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return 0, 0, err
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("predict request: HTTP %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decode prediction: %w", err)
	}
	return out.Label, out.Probability, nil
}
