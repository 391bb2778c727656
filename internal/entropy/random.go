// Package entropy provides the randomness sources behind stochastic economy
// events. The default is a deterministic seeded source so any run can be
// replayed; true randomness via random.org is available as an opt-in live
// mode, falling back to crypto/rand when the API is unavailable.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	mathrand "math/rand/v2"
	"net/http"
	"sync"
	"time"
)

// Source yields uniform random values. All economy components draw their
// randomness through a Source so outcomes are reproducible under a fixed
// seed.
type Source interface {
	// Float returns a random float64 in [0, 1).
	Float() float64
	// IntN returns a random int in [0, n). n must be > 0.
	IntN(n int) int
}

// Seeded is a deterministic Source backed by a PCG generator. Safe for
// concurrent callers; the draw order is part of the replayed state.
type Seeded struct {
	mu  sync.Mutex
	rng *mathrand.Rand
}

// NewSeeded creates a deterministic source from a seed.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: mathrand.New(mathrand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
}

// Float returns a random float64 in [0, 1).
func (s *Seeded) Float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// IntN returns a random int in [0, n).
func (s *Seeded) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Client provides true random numbers from random.org with a local pool.
// It implements Source but is not reproducible; use it only for live runs
// where replay does not matter.
type Client struct {
	apiKey string
	client *http.Client

	mu        sync.Mutex
	pool      []float64
	refilling bool
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Float returns a random float64 in [0, 1). Uses the pool, refilling from
// random.org in the background when low; the HTTP round trip never runs
// under the pool lock, so concurrent callers are not stalled behind it.
// Falls back to crypto/rand while the pool is empty.
func (c *Client) Float() float64 {
	if c == nil {
		return cryptoRandFloat()
	}

	c.mu.Lock()
	if len(c.pool) < 10 && !c.refilling {
		c.refilling = true
		go c.refill()
	}
	if len(c.pool) == 0 {
		c.mu.Unlock()
		return cryptoRandFloat()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	c.mu.Unlock()
	return val
}

// IntN returns a random int in [0, n) derived from Float.
func (c *Client) IntN(n int) int {
	v := int(c.Float() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

// refill fetches a fresh batch and merges it into the pool. Runs in its
// own goroutine; only the merge takes the lock.
func (c *Client) refill() {
	data := c.fetch()

	c.mu.Lock()
	c.pool = append(c.pool, data...)
	c.refilling = false
	c.mu.Unlock()

	if len(data) > 0 {
		slog.Debug("random.org pool refilled", "count", len(data))
	}
}

// fetch performs one generateDecimalFractions call. Returns nil on any
// failure; the caller keeps serving crypto/rand in the meantime.
func (c *Client) fetch() []float64 {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateDecimalFractions",
		"params": map[string]any{
			"apiKey":        c.apiKey,
			"n":             100,
			"decimalPlaces": 6,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.Debug("random.org marshal failed", "error", err)
		return nil
	}

	resp, err := c.client.Post("https://api.random.org/json-rpc/4/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Debug("random.org fetch failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("random.org read failed", "error", err)
		return nil
	}

	var result struct {
		Result struct {
			Random struct {
				Data []float64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		slog.Debug("random.org parse failed", "error", err)
		return nil
	}

	if result.Error != nil {
		slog.Debug("random.org API error", "error", result.Error.Message)
		return nil
	}

	return result.Result.Random.Data
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// cryptoRandFloat generates a random float64 using crypto/rand as fallback.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}
