// Package sim provides a deterministic simulated voice carrier for local
// runs and tests.
package sim

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"callsplit/domain/core"
	"callsplit/ports"
)

// Profile controls the simulated outcome distribution. Probabilities are
// cumulative slices of [0,1); whatever remains is a failed call.
type Profile struct {
	AnswerRate    float64
	BusyRate      float64
	NoAnswerRate  float64
	VoicemailRate float64
	RejectedRate  float64

	// Latency delays each call to mimic ring time. Zero keeps tests fast.
	Latency time.Duration

	// AnswerBias shifts the answer rate per origin line, keyed by the From
	// number. Lets a simulation give one group a measurable edge.
	AnswerBias map[string]float64
}

// DefaultProfile mimics a mid-quality outbound campaign.
func DefaultProfile() Profile {
	return Profile{
		AnswerRate:    0.35,
		BusyRate:      0.10,
		NoAnswerRate:  0.35,
		VoicemailRate: 0.10,
		RejectedRate:  0.05,
	}
}

// Carrier is a seeded fake carrier. The same seed and call sequence always
// produce the same outcomes.
type Carrier struct {
	mu      sync.Mutex
	rng     *rand.Rand
	profile Profile
	results map[string]*ports.CallResult
}

// New creates a simulated carrier with the given seed and profile.
func New(seed int64, profile Profile) *Carrier {
	return &Carrier{
		rng:     rand.New(rand.NewSource(seed)),
		profile: profile,
		results: make(map[string]*ports.CallResult),
	}
}

var _ ports.VoiceCarrier = (*Carrier)(nil)

// MakeCall simulates one outbound call and returns its terminal result.
func (c *Carrier) MakeCall(ctx context.Context, req ports.CallRequest) (*ports.CallResult, error) {
	if c.profile.Latency > 0 {
		select {
		case <-time.After(c.profile.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	roll := c.rng.Float64()
	status, duration := c.outcome(roll, req)
	result := &ports.CallResult{
		CallID:   core.NewID().String(),
		Status:   status,
		Duration: duration,
		Cost:     duration.Minutes() * 0.012,
	}
	c.results[result.CallID] = result
	return result, nil
}

// GetCallStatus returns the stored result for a previously placed call.
func (c *Carrier) GetCallStatus(ctx context.Context, callID string) (*ports.CallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.results[callID]
	if !ok {
		return nil, core.ErrCallNotFound
	}
	return result, nil
}

// Hangup is a no-op for the simulator; calls resolve synchronously.
func (c *Carrier) Hangup(ctx context.Context, callID string) error {
	return nil
}

func (c *Carrier) outcome(roll float64, req ports.CallRequest) (ports.CallStatus, time.Duration) {
	p := c.profile
	answer := p.AnswerRate + p.AnswerBias[req.From]

	switch {
	case roll < answer:
		// Answered call duration between 15s and 4m, seeded per destination
		// so re-runs stay stable.
		d := 15*time.Second + time.Duration(hashOf(req.To)%int64(225*time.Second))
		return ports.CallAnswered, d
	case roll < answer+p.BusyRate:
		return ports.CallBusy, 0
	case roll < answer+p.BusyRate+p.NoAnswerRate:
		return ports.CallUnanswered, req.RingTimeout
	case roll < answer+p.BusyRate+p.NoAnswerRate+p.VoicemailRate:
		return ports.CallVoicemail, 20 * time.Second
	case roll < answer+p.BusyRate+p.NoAnswerRate+p.VoicemailRate+p.RejectedRate:
		return ports.CallRejected, 2 * time.Second
	default:
		return ports.CallFailed, 0
	}
}

func hashOf(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
