// Package classifier talks to a remote shape analysis service.
package classifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/log"
	"github.com/juruen/inkcore/recognition"
)

const (
	// maxPayload is the largest request body the service accepts.
	maxPayload = 4000000

	defaultTimeout     = 10 * time.Second
	defaultMaxInFlight = 4
)

// Config holds the service endpoint and credentials.
type Config struct {
	URL            string
	ApplicationKey string
	HmacKey        string
	Timeout        time.Duration
	// MaxInFlight bounds concurrent requests across every pipeline sharing
	// the client.
	MaxInFlight int64
	// Width and Height describe the canvas the strokes were drawn on.
	Width  int32
	Height int32
	// Shapes restricts the answer, all shapes when empty.
	Shapes []string
}

// Client implements recognition.Classifier over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
	sem  *semaphore.Weighted
}

var _ recognition.Classifier = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("classifier url is required")
	}
	if cfg.ApplicationKey == "" {
		return nil, errors.New("INKCORE_CLASSIFIER_APPLICATIONKEY environment variable is required")
	}
	if cfg.HmacKey == "" {
		return nil, errors.New("INKCORE_CLASSIFIER_HMAC environment variable is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		sem:  semaphore.NewWeighted(cfg.MaxInFlight),
	}, nil
}

// sign computes the request signature from both keys and the body.
func sign(key, hmackey string, data []byte) string {
	mac := hmac.New(sha512.New, []byte(key+hmackey))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Classify sends the strokes as one group and returns every candidate the
// service reports.
func (c *Client) Classify(ctx context.Context, strokes []*ink.StrokeData) ([]recognition.Candidate, error) {
	batch := newBatchInput(strokes, c.cfg.Shapes, c.cfg.Width, c.cfg.Height)
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal strokes")
	}
	log.Trace.Printf("classifier: %d strokes, payload %d bytes", len(batch.StrokeGroups[0].Strokes), len(data))
	if len(data) > maxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds limit", len(data))
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "waiting for classifier slot")
	}
	defer c.sem.Release(1)

	body, err := c.send(ctx, data)
	if err != nil {
		return nil, err
	}

	var out BatchOutput
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "failed to decode classifier response")
	}
	return toCandidates(out), nil
}

func (c *Client) send(ctx context.Context, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("applicationKey", c.cfg.ApplicationKey)
	req.Header.Set("hmac", sign(c.cfg.ApplicationKey, c.cfg.HmacKey, data))

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: Status %d, Response: %s", res.StatusCode, string(body))
	}
	return body, nil
}

func toCandidates(out BatchOutput) []recognition.Candidate {
	candidates := make([]recognition.Candidate, 0, len(out.Candidates))
	for _, c := range out.Candidates {
		kind, err := ink.ParseShapeType(c.Kind)
		if err != nil {
			log.Trace.Printf("classifier: skipping candidate: %v", err)
			continue
		}
		points := make([]ink.Point, len(c.Points))
		for i, p := range c.Points {
			points[i] = ink.Point{X: p.X, Y: p.Y}
		}
		candidates = append(candidates, recognition.Candidate{
			Kind:       kind,
			Confidence: c.Confidence,
			Points:     points,
			Bounds:     ink.Rect{X: c.Bounds.X, Y: c.Bounds.Y, Width: c.Bounds.Width, Height: c.Bounds.Height},
		})
	}
	return candidates
}
