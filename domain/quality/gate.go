package quality

import (
	"context"
	"fmt"
	"log"
)

// Gate is the spam-signal-driven admission check in front of every call.
// It fails open: a broken signal source never halts calling.
type Gate struct {
	cfg    Config
	source SpamSource
}

// New creates a Gate. A nil source is only valid when the config is disabled.
func New(cfg Config, source SpamSource) *Gate {
	return &Gate{cfg: cfg, source: source}
}

// Config returns the gate configuration.
func (g *Gate) Config() Config { return g.cfg }

// EvaluateCall gates a single call in lead/line context.
func (g *Gate) EvaluateCall(ctx context.Context, key string) Result {
	if !g.cfg.Enabled {
		return allowResult("quality gate disabled")
	}
	if !g.applies(PolicyPreCall) {
		return allowResult("call gating not active for policy " + string(g.cfg.Policy))
	}
	return g.evaluate(ctx, SpamQuery{Context: ContextLead, Key: key})
}

// EvaluateWave gates a whole wave before its release.
func (g *Gate) EvaluateWave(ctx context.Context, waveKey string) Result {
	if !g.cfg.Enabled {
		return allowResult("quality gate disabled")
	}
	if !g.applies(PolicyPreWave) {
		return allowResult("wave gating not active for policy " + string(g.cfg.Policy))
	}
	return g.evaluate(ctx, SpamQuery{Context: ContextWave, Key: waveKey})
}

// EvaluateLine checks a specific origin line; used by callers that gate per
// CLI rather than per lead.
func (g *Gate) EvaluateLine(ctx context.Context, line string) Result {
	if !g.cfg.Enabled {
		return allowResult("quality gate disabled")
	}
	if !g.applies(PolicyPreCall) {
		return allowResult("call gating not active for policy " + string(g.cfg.Policy))
	}
	return g.evaluate(ctx, SpamQuery{Context: ContextCLI, Key: line})
}

// EvaluatePostEvent fetches a line's signal after a call has completed. It
// runs under PolicyPostEvent and PolicyMixed, never blocks anything, and
// reports false when the policy skips post-event lookups; callers attach the
// result to the call's ledger entry.
func (g *Gate) EvaluatePostEvent(ctx context.Context, line string) (Result, bool) {
	if !g.cfg.Enabled {
		return Result{}, false
	}
	if g.cfg.Policy != PolicyPostEvent && g.cfg.Policy != PolicyMixed {
		return Result{}, false
	}
	res := g.evaluate(ctx, SpamQuery{Context: ContextCLI, Key: line})
	res.Allowed = true
	return res, true
}

// applies reports whether evaluation runs for the gating point. PolicyMixed
// always evaluates; PolicyPostEvent never gates admission.
func (g *Gate) applies(point Policy) bool {
	if !g.cfg.Enabled {
		return false
	}
	switch g.cfg.Policy {
	case PolicyMixed:
		return true
	case PolicyPostEvent:
		return false
	case PolicyPreCall, PolicyPreWave:
		return g.cfg.Policy == point
	default:
		return false
	}
}

func (g *Gate) evaluate(ctx context.Context, q SpamQuery) Result {
	signal, err := g.source.Evaluate(ctx, q)
	if err != nil {
		// Fail open: availability over strict enforcement.
		log.Printf("[QualityGate] spam source error for %s %q, failing open: %v", q.Context, q.Key, err)
		r := allowResult("spam source unavailable, failing open")
		r.Metadata = map[string]string{"error": err.Error()}
		return r
	}
	return g.classify(q, signal)
}

func (g *Gate) classify(q SpamQuery, signal *SpamSignal) Result {
	r := Result{
		Score:  signal.Score,
		Labels: signal.Labels,
		Metadata: map[string]string{
			"context": string(q.Context),
			"key":     q.Key,
		},
	}

	switch {
	case signal.Score >= g.cfg.BlockAbove:
		r.Class = ClassBlock
	case signal.Score >= g.cfg.SlowAbove:
		r.Class = ClassSlow
	case signal.Score >= g.cfg.WarnAbove:
		r.Class = ClassWarn
	default:
		r.Class = ClassOK
	}
	r.Action = r.Class.String()

	switch r.Class {
	case ClassBlock:
		r.Allowed = false
		r.Reason = fmt.Sprintf("score %.1f >= block threshold %.1f", signal.Score, g.cfg.BlockAbove)
		r.Metadata["business_action"] = g.cfg.OnBlock.String()
	case ClassSlow:
		r.Allowed = true
		r.Reason = fmt.Sprintf("score %.1f >= slow threshold %.1f", signal.Score, g.cfg.SlowAbove)
		r.Metadata["business_action"] = g.cfg.OnSlow.String()
	case ClassWarn:
		r.Allowed = true
		r.Reason = fmt.Sprintf("score %.1f >= warn threshold %.1f", signal.Score, g.cfg.WarnAbove)
		r.Metadata["business_action"] = g.cfg.OnWarn.String()
	case ClassOK:
		r.Allowed = true
		r.Reason = fmt.Sprintf("score %.1f under all thresholds", signal.Score)
	}
	return r
}

func allowResult(reason string) Result {
	return Result{
		Allowed: true,
		Class:   ClassOK,
		Action:  ClassOK.String(),
		Reason:  reason,
	}
}
