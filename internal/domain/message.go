package domain

// SubmissionMessage wraps a queued submission with its acknowledgement callbacks.
type SubmissionMessage struct {
	Submission *Submission
	Ack        func() error
	Nack       func(requeue bool) error
}
