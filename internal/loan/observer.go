package loan

import (
	"context"
	"time"
)

// Metrics receives counters from the service layer.
type Metrics interface {
	SessionStarted(flow string)
	StepEntered(flow, step string)
	ValidationFailed(flow, step string, fields int)
	DocumentUploaded(flow, outcome string)
	SubmissionFinished(flow, outcome string, d time.Duration)
	ChallengeSent(outcome string)
	ChallengeConfirmed(outcome string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionStarted(string)                            {}
func (NopMetrics) StepEntered(string, string)                       {}
func (NopMetrics) ValidationFailed(string, string, int)             {}
func (NopMetrics) DocumentUploaded(string, string)                  {}
func (NopMetrics) SubmissionFinished(string, string, time.Duration) {}
func (NopMetrics) ChallengeSent(string)                             {}
func (NopMetrics) ChallengeConfirmed(string)                        {}

// Notifier is told about every stored application.
type Notifier interface {
	ApplicationSubmitted(ctx context.Context, rec *SubmittedRecord) error
}
