package errors

import sterrors "errors"

var (
	ErrProviderRequired  = sterrors.New("workerflow: provider is required")
	ErrHandlerRequired   = sterrors.New("workerflow: handler is required")
	ErrRoutesRequired    = sterrors.New("workerflow: at least one route is required")
	ErrRunnerClosed      = sterrors.New("workerflow: runner is closed")
	ErrConfigRequired    = sterrors.New("workerflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("workerflow: logger is required")
	ErrPublisherRequired = sterrors.New("workerflow: publisher is required")
	ErrTopicRequired     = sterrors.New("workerflow: topic is required")
	ErrQueueNameRequired = sterrors.New("workerflow: queue name is required")

	// ErrDeleteMessage is returned (or wrapped) by a handler to ask for the
	// message to be acknowledged and discarded without further processing.
	ErrDeleteMessage = sterrors.New("workerflow: delete message")
)

// ConfigValidationError marks an error produced while validating Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "workerflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
