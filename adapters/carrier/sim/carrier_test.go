package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"callsplit/domain/core"
	"callsplit/ports"
)

func placeCalls(t *testing.T, c *Carrier, n int) []*ports.CallResult {
	t.Helper()
	ctx := context.Background()
	out := make([]*ports.CallResult, 0, n)
	for i := 0; i < n; i++ {
		res, err := c.MakeCall(ctx, ports.CallRequest{
			To:          "+351910000001",
			From:        "+351210000001",
			RingTimeout: 30 * time.Second,
		})
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, res)
	}
	return out
}

func TestCarrier_SameSeedSameOutcomes(t *testing.T) {
	a := placeCalls(t, New(42, DefaultProfile()), 50)
	b := placeCalls(t, New(42, DefaultProfile()), 50)

	for i := range a {
		if a[i].Status != b[i].Status {
			t.Fatalf("call %d: %s vs %s, want identical sequences", i, a[i].Status, b[i].Status)
		}
		if a[i].Duration != b[i].Duration {
			t.Fatalf("call %d: durations %v vs %v differ", i, a[i].Duration, b[i].Duration)
		}
	}
}

func TestCarrier_DifferentSeedsDiverge(t *testing.T) {
	a := placeCalls(t, New(1, DefaultProfile()), 50)
	b := placeCalls(t, New(2, DefaultProfile()), 50)

	same := true
	for i := range a {
		if a[i].Status != b[i].Status {
			same = false
			break
		}
	}
	if same {
		t.Fatal("50 calls from different seeds produced identical outcome sequences")
	}
}

func TestCarrier_OutcomeShapes(t *testing.T) {
	results := placeCalls(t, New(7, DefaultProfile()), 200)

	for i, res := range results {
		switch res.Status {
		case ports.CallAnswered:
			if res.Duration < 15*time.Second || res.Duration > 4*time.Minute {
				t.Errorf("call %d: answered duration %v out of range", i, res.Duration)
			}
			if res.Cost <= 0 {
				t.Errorf("call %d: answered call has no cost", i)
			}
		case ports.CallUnanswered:
			if res.Duration != 30*time.Second {
				t.Errorf("call %d: unanswered duration %v, want the ring timeout", i, res.Duration)
			}
		case ports.CallBusy, ports.CallFailed:
			if res.Duration != 0 {
				t.Errorf("call %d: %s duration %v, want 0", i, res.Status, res.Duration)
			}
		}
	}
}

func TestCarrier_AnswerBiasShiftsRates(t *testing.T) {
	profile := DefaultProfile()
	profile.AnswerBias = map[string]float64{"+351210000009": 0.40}

	ctx := context.Background()
	biased, baseline := 0, 0
	c := New(99, profile)
	for i := 0; i < 300; i++ {
		res, err := c.MakeCall(ctx, ports.CallRequest{To: "+351910000001", From: "+351210000009"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status == ports.CallAnswered {
			biased++
		}
	}
	c = New(99, DefaultProfile())
	for i := 0; i < 300; i++ {
		res, err := c.MakeCall(ctx, ports.CallRequest{To: "+351910000001", From: "+351210000009"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status == ports.CallAnswered {
			baseline++
		}
	}

	// 0.75 vs 0.35 answer rate over 300 calls; a 60-call margin leaves
	// plenty of room for seed noise.
	if biased-baseline < 60 {
		t.Errorf("biased line answered %d vs %d baseline, want a clear lift", biased, baseline)
	}
}

func TestCarrier_GetCallStatus(t *testing.T) {
	c := New(5, DefaultProfile())
	ctx := context.Background()

	res, err := c.MakeCall(ctx, ports.CallRequest{To: "+351910000001", From: "+351210000001"})
	if err != nil {
		t.Fatal(err)
	}

	stored, err := c.GetCallStatus(ctx, res.CallID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != res.Status {
		t.Errorf("stored status %s, want %s", stored.Status, res.Status)
	}

	if _, err := c.GetCallStatus(ctx, "no-such-call"); !errors.Is(err, core.ErrCallNotFound) {
		t.Errorf("err = %v, want ErrCallNotFound", err)
	}
}

func TestCarrier_LatencyRespectsContext(t *testing.T) {
	profile := DefaultProfile()
	profile.Latency = time.Minute
	c := New(5, profile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.MakeCall(ctx, ports.CallRequest{To: "+351910000001"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
