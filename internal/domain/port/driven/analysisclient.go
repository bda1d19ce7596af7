package driven

import "context"

// AnalysisSubmission is the delivery payload for one captured sample.
// Bearer is empty when no credential was available; delivery proceeds
// unauthenticated in that case.
type AnalysisSubmission struct {
	Sender string
	Text   string
	Source string
	Bearer string
}

// AnalysisClient posts captured samples to the analysis backend.
type AnalysisClient interface {
	// Submit posts one sample to endpoint. A non-2xx response or transport
	// failure is returned as an error; the scheduler's backoff absorbs it.
	Submit(ctx context.Context, endpoint string, sub AnalysisSubmission) error
}
