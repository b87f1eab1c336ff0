// ABOUTME: Error taxonomy and request stages for the pipeline
// ABOUTME: Transports map the sentinels to caller-visible statuses

package conversation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation means required request fields were missing or invalid.
	ErrValidation = errors.New("invalid request")
	// ErrNotFound means the conversation does not exist for this owner.
	ErrNotFound = errors.New("conversation not found")
	// ErrNaming means a new conversation could not be named.
	ErrNaming = errors.New("naming failed")
	// ErrGeneration means the model provider failed.
	ErrGeneration = errors.New("generation failed")
	// ErrPersistence means the store rejected or could not complete a write.
	ErrPersistence = errors.New("persistence failed")
	// ErrAlreadyRecorded means a Recording was committed twice.
	ErrAlreadyRecorded = errors.New("turn already recorded")
)

// Stage is a state of the per-request pipeline.
type Stage string

const (
	StageInit               Stage = "init"
	StageCreateConversation Stage = "create_conversation"
	StageEnrich             Stage = "enrich"
	StageCompose            Stage = "compose"
	StageGenerate           Stage = "generate"
	StagePersist            Stage = "persist"
	StageDone               Stage = "done"
	StageError              Stage = "error"
)

// StageError records the stage a request failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, or StageError when err
// carries none.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageError
}

func validationError(format string, args ...any) error {
	return &StageError{Stage: StageInit, Err: fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)}
}

// Caller-facing messages for failures after a request was accepted.
const (
	msgNamingFailed  = "Failed to generate a chat name. Please try again."
	msgCreateFailed  = "Failed to create the conversation. Please try again."
	msgHistoryFailed = "Failed to load conversation history. Please try again."
	msgSaveFailed    = "Failed to save the conversation. Please try again."
	msgInternal      = "internal server error"
)

// UserMessage returns the text shown to a caller for err. Internal detail
// is only exposed for validation and generation failures.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		var se *StageError
		if errors.As(err, &se) {
			return se.Err.Error()
		}
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrNaming):
		return msgNamingFailed
	case errors.Is(err, ErrGeneration):
		return generationErrorMessage(generationCause(err))
	case errors.Is(err, ErrPersistence), errors.Is(err, ErrAlreadyRecorded):
		switch FailedStage(err) {
		case StageCreateConversation:
			return msgCreateFailed
		case StageCompose:
			return msgHistoryFailed
		}
		return msgSaveFailed
	}
	return msgInternal
}

// generationCause strips the stage and sentinel prefixes from a wrapped
// generation error, leaving the provider's own message.
func generationCause(err error) string {
	msg := err.Error()
	marker := ErrGeneration.Error() + ": "
	if i := strings.Index(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return msg
}
