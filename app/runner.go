package app

import (
	"context"
	"log"
	"time"

	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
	"callsplit/domain/quality"
	"callsplit/domain/schedule"
	"callsplit/internal/ratelimit"
	"callsplit/ports"
)

// completion carries a finished carrier call back to the loop goroutine.
type completion struct {
	call   schedule.Call
	result *ports.CallResult
	err    error
}

// loop is the single goroutine driving one test. All scheduler acks, metric
// records and runtime-map mutations happen here; dispatch goroutines only
// send completions.
func (r *Registry) loop(ctx context.Context, rt *runtime) {
	defer close(rt.done)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain(rt)
			return
		case c := <-rt.completions:
			r.handleCompletion(rt, c)
		case <-ticker.C:
			if r.tick(ctx, rt) {
				return
			}
		}
	}
}

// drain waits for every in-flight call to report back so no outcome is lost
// when a test pauses or stops mid-wave.
func (r *Registry) drain(rt *runtime) {
	for len(rt.inFlight) > 0 {
		c := <-rt.completions
		r.handleCompletion(rt, c)
	}
}

// tick runs one scheduling pass: stop rules first, then completion check,
// then dispatch. Returns true when the loop should exit.
func (r *Registry) tick(ctx context.Context, rt *runtime) bool {
	testID := rt.state.ID

	agg := r.metrics.Aggregate(testID)
	r.updateCurrentMetrics(rt, agg)

	decision := rt.rules.Evaluate(testID, agg)
	if decision.ShouldNotify {
		log.Printf("[Runner] NOTIFY test %s: %s", testID, decision.Reason)
	}
	switch {
	case decision.ShouldStop:
		if err := r.transition(rt, experiment.StatusStopped, decision.Reason); err != nil {
			log.Printf("[Runner] stop rule transition for %s: %v", testID, err)
		}
		rt.cancel()
		r.drain(rt)
		return true
	case decision.ShouldPause:
		if err := r.transition(rt, experiment.StatusPaused, decision.Reason); err != nil {
			log.Printf("[Runner] pause rule transition for %s: %v", testID, err)
		}
		rt.cancel()
		r.drain(rt)
		return true
	}

	if rt.scheduler.Len() == 0 && len(rt.inFlight) == 0 {
		if err := r.transition(rt, experiment.StatusCompleted, ""); err != nil {
			log.Printf("[Runner] completion transition for %s: %v", testID, err)
		}
		log.Printf("[Runner] test %s completed: %d calls recorded", testID, r.metrics.Count(testID))
		rt.cancel()
		return true
	}

	now := r.clock.Now()
	for _, call := range rt.scheduler.NextCalls(now, r.opts.BatchSize) {
		if _, busy := rt.inFlight[call.CallID]; busy {
			continue
		}
		if rt.pausedLines[call.OriginLine] {
			continue
		}
		if !r.admit(ctx, rt, call) {
			continue
		}
		if !rt.sem.TryAcquire(1) {
			break
		}
		rt.inFlight[call.CallID] = call
		go r.execute(ctx, rt, call)
	}
	return false
}

// admit runs the dispatch-time quality and rate checks for one call. A false
// return leaves the call queued for a later tick unless it was consumed as a
// spam block.
func (r *Registry) admit(ctx context.Context, rt *runtime, call schedule.Call) bool {
	res := rt.gate.EvaluateLine(ctx, call.OriginLine)
	switch res.Class {
	case quality.ClassBlock:
		r.applyBlock(rt, call, res)
		return false
	case quality.ClassSlow:
		if rt.gate.Config().OnSlow == quality.SlowDownshiftRate && r.limiter != nil {
			r.limiter.ApplyDownshift(call.OriginLine)
		}
		log.Printf("[Runner] line %s spam score %.1f: slowing", call.OriginLine, res.Score)
	case quality.ClassWarn:
		log.Printf("[Runner] line %s spam score %.1f: warning", call.OriginLine, res.Score)
	}

	if r.limiter != nil {
		st := r.limiter.Allow(map[ratelimit.Scope]string{
			ratelimit.ScopeGlobal: "global",
			ratelimit.ScopeCLI:    call.OriginLine,
			ratelimit.ScopeTest:   rt.state.ID.String(),
		})
		if !st.Allowed {
			return false
		}
	}
	if rt.lineCap != nil {
		if st := rt.lineCap.Allow(call.OriginLine); !st.Allowed {
			return false
		}
	}
	if rt.waveCap != nil && call.WaveID != "" {
		if st := rt.waveCap.Allow(call.WaveID.String()); !st.Allowed {
			return false
		}
	}
	return true
}

// applyBlock consumes a call refused by the quality gate: the outcome is
// recorded as spam_blocked and, depending on the configured action, the
// origin line may stop dispatching for the rest of this run.
func (r *Registry) applyBlock(rt *runtime, call schedule.Call, res quality.Result) {
	blocked := []schedule.Call{call}
	if rt.gate.Config().OnBlock == quality.BlockPauseCLI {
		rt.pausedLines[call.OriginLine] = true
		// A paused line never dispatches again this run. Its queued calls
		// are consumed now so the test can still finish.
		for _, pending := range rt.scheduler.Pending() {
			if pending.OriginLine != call.OriginLine || pending.CallID == call.CallID {
				continue
			}
			if _, busy := rt.inFlight[pending.CallID]; busy {
				continue
			}
			blocked = append(blocked, pending)
		}
		log.Printf("[Runner] line %s paused, %d queued calls dropped: %s",
			call.OriginLine, len(blocked)-1, res.Reason)
	} else {
		log.Printf("[Runner] call %s blocked (%s): %s", call.CallID, res.Action, res.Reason)
	}

	for _, c := range blocked {
		m := metrics.CallMetric{
			CallID:     c.CallID,
			TestID:     rt.state.ID,
			LeadID:     c.LeadID,
			Group:      c.Group,
			Outcome:    metrics.OutcomeSpamBlocked,
			Attempt:    c.Attempt,
			Timestamp:  r.clock.Now(),
			SpamScore:  res.Score,
			SpamLabels: res.Labels,
		}
		r.recordMetric(rt, m)
		rt.scheduler.Ack(c.CallID)
	}
}

// execute places one call. It runs off-loop; the carrier call survives a
// pause or stop so its outcome still lands in the ledger.
func (r *Registry) execute(ctx context.Context, rt *runtime, call schedule.Call) {
	defer rt.sem.Release(1)

	callCtx := context.WithoutCancel(ctx)

	script := rt.state.Config.GroupFor(call.Group).Script
	result, err := r.carrier.MakeCall(callCtx, ports.CallRequest{
		To:          call.Destination,
		From:        call.OriginLine,
		Script:      script,
		RingTimeout: call.RingTimeout,
	})
	rt.completions <- completion{call: call, result: result, err: err}
}

// handleCompletion records the call outcome, persists it, fires nudges and
// releases the scheduler entry.
func (r *Registry) handleCompletion(rt *runtime, c completion) {
	delete(rt.inFlight, c.call.CallID)

	outcome, duration, errMsg := mapCallResult(c.result, c.err)
	m := metrics.CallMetric{
		CallID:    c.call.CallID,
		TestID:    rt.state.ID,
		LeadID:    c.call.LeadID,
		Group:     c.call.Group,
		Outcome:   outcome,
		Duration:  duration,
		Attempt:   c.call.Attempt,
		Timestamp: r.clock.Now(),
		Error:     errMsg,
	}
	if res, ok := rt.gate.EvaluatePostEvent(context.Background(), c.call.OriginLine); ok {
		m.SpamScore = res.Score
		// A clean post-call signal leaves the ledger entry unflagged.
		if res.Class != quality.ClassOK {
			m.SpamLabels = res.Labels
			log.Printf("[Runner] line %s post-call spam score %.1f: %s",
				c.call.OriginLine, res.Score, res.Reason)
		}
	}
	r.recordMetric(rt, m)
	r.evaluateNudges(rt, c.call, outcome)
	rt.scheduler.Ack(c.call.CallID)
}

// recordMetric appends to the in-memory ledger, refreshes the cached rollup
// and persists the record best-effort.
func (r *Registry) recordMetric(rt *runtime, m metrics.CallMetric) {
	agg, err := r.metrics.Record(m)
	if err != nil {
		log.Printf("[Runner] record call %s: %v", m.CallID, err)
		return
	}
	r.updateCurrentMetrics(rt, agg)

	if r.callLogs != nil {
		if err := r.callLogs.AppendCallMetric(context.Background(), m); err != nil {
			log.Printf("[Runner] persist call %s: %v", m.CallID, err)
		}
	}
	if r.experiments != nil {
		if err := r.experiments.SaveMetricsSnapshot(context.Background(), m.TestID, agg); err != nil {
			log.Printf("[Runner] persist metrics snapshot for %s: %v", m.TestID, err)
		}
	}
}

func (r *Registry) updateCurrentMetrics(rt *runtime, agg metrics.Aggregated) {
	r.mu.Lock()
	rt.state.CurrentMetrics = agg
	r.mu.Unlock()
}

// failureOutcomes are the call results that can trigger a nudge.
var failureOutcomes = map[metrics.Outcome]bool{
	metrics.OutcomeNoAnswer: true,
	metrics.OutcomeBusy:     true,
	metrics.OutcomeFailed:   true,
	metrics.OutcomeRejected: true,
}

// evaluateNudges fires configured follow-up messages. Sends are
// fire-and-forget; a messenger failure never delays call execution.
func (r *Registry) evaluateNudges(rt *runtime, call schedule.Call, outcome metrics.Outcome) {
	if r.messenger == nil || !failureOutcomes[outcome] {
		return
	}
	lead, ok := rt.state.Config.LeadByID(call.LeadID)
	if !ok {
		return
	}
	for _, rule := range rt.state.Config.Nudges {
		if rule.Trigger != experiment.TriggerFailedAfterAttempt {
			continue
		}
		if call.Attempt < rule.AfterAttempt {
			continue
		}
		msg := ports.Message{
			Channel: rule.Channel,
			To:      lead.Phone,
			Body:    rule.Template,
		}
		go func(msg ports.Message, leadID string) {
			receipt, err := r.messenger.Send(context.Background(), msg)
			if err != nil {
				log.Printf("[Runner] nudge to lead %s via %s failed: %v", leadID, msg.Channel, err)
				return
			}
			log.Printf("[Runner] nudge %s sent to lead %s via %s", receipt.MessageID, leadID, msg.Channel)
		}(msg, string(call.LeadID))
	}
}

// mapCallResult collapses the carrier's terminal status into a metric
// outcome. Transport errors count as failed calls, not lost ones.
func mapCallResult(result *ports.CallResult, err error) (metrics.Outcome, time.Duration, string) {
	if err != nil {
		return metrics.OutcomeFailed, 0, err.Error()
	}
	if result == nil {
		return metrics.OutcomeFailed, 0, "carrier returned no result"
	}
	switch result.Status {
	case ports.CallAnswered, ports.CallCompleted:
		return metrics.OutcomeAnswered, result.Duration, ""
	case ports.CallBusy:
		return metrics.OutcomeBusy, result.Duration, ""
	case ports.CallUnanswered, ports.CallTimeout:
		return metrics.OutcomeNoAnswer, result.Duration, ""
	case ports.CallRejected:
		return metrics.OutcomeRejected, result.Duration, ""
	case ports.CallVoicemail:
		return metrics.OutcomeVoicemail, result.Duration, ""
	case ports.CallFailed:
		return metrics.OutcomeFailed, result.Duration, ""
	default:
		return metrics.OutcomeFailed, result.Duration, "unknown carrier status: " + string(result.Status)
	}
}
