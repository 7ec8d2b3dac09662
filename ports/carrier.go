package ports

import (
	"context"
	"time"
)

// CallStatus is the carrier-side status vocabulary. The runner maps it into
// the experiment outcome vocabulary.
type CallStatus string

const (
	CallStarted    CallStatus = "started"
	CallRinging    CallStatus = "ringing"
	CallAnswered   CallStatus = "answered"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallRejected   CallStatus = "rejected"
	CallTimeout    CallStatus = "timeout"
	CallBusy       CallStatus = "busy"
	CallUnanswered CallStatus = "unanswered"
	CallVoicemail  CallStatus = "voicemail"
)

// CallRequest asks the carrier to place one outbound call.
type CallRequest struct {
	To          string
	From        string
	Script      string
	RingTimeout time.Duration
}

// CallResult reports the terminal state of a placed call.
type CallResult struct {
	CallID   string
	Status   CallStatus
	Duration time.Duration
	Cost     float64
}

// VoiceCarrier places calls and reports terminal status and duration.
// Implemented by adapters, never by the core.
type VoiceCarrier interface {
	MakeCall(ctx context.Context, req CallRequest) (*CallResult, error)
	GetCallStatus(ctx context.Context, callID string) (*CallResult, error)
	Hangup(ctx context.Context, callID string) error
}
