// Package businessflow contains the core business logic and use cases for ingestion and campaign dispatch workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Upload-related errors
	ErrUploadJobNotFound      = errors.New("upload job not found")
	ErrUploadFileNameRequired = errors.New("upload file name is required")
	ErrUnsupportedFileType    = errors.New("unsupported file type")
	ErrFileTooLarge           = errors.New("file exceeds the maximum allowed size")
	ErrMalformedFile          = errors.New("file structure is malformed")
	ErrMissingRequiredColumns = errors.New("required columns are missing")
	ErrTooManyRows            = errors.New("file exceeds the maximum row count")
	ErrUploadAlreadyTerminal  = errors.New("upload job already finished")

	// Campaign-related errors
	ErrCampaignNotFound         = errors.New("campaign not found")
	ErrCampaignNameRequired     = errors.New("campaign name is required")
	ErrCampaignTemplateRequired = errors.New("campaign template body is required")
	ErrCampaignChannelsRequired = errors.New("at least one channel is required")
	ErrInvalidChannel           = errors.New("invalid channel")
	ErrScheduleTimeNotPresent   = errors.New("schedule time is not present")
	ErrScheduleTimeInPast       = errors.New("schedule time is in the past")
	ErrInvalidTimezone          = errors.New("invalid timezone")
	ErrIllegalStatusTransition  = errors.New("illegal campaign status transition")
	ErrEmptyAudience            = errors.New("segmentation criteria matched no recipients")
	ErrCampaignNotPausable      = errors.New("campaign cannot be paused in its current status")
	ErrCampaignNotResumable     = errors.New("campaign is not paused")
	ErrCampaignNotCancellable   = errors.New("campaign cannot be cancelled in its current status")

	// Dispatch-related errors
	ErrTaskNotFound        = errors.New("message task not found")
	ErrNoContactForChannel = errors.New("recipient has no usable contact for channel")
	ErrProviderTransient   = errors.New("provider rejected the message transiently")
	ErrProviderPermanent   = errors.New("provider rejected the message permanently")
	ErrProviderQuota       = errors.New("provider quota exceeded")

	// Delivery tracking errors
	ErrReceiptUnknownTask = errors.New("receipt does not correlate to a known message task")
	ErrReceiptOutOfOrder  = errors.New("receipt would regress a terminal or later state")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsUploadJobNotFound(err error) bool {
	return errors.Is(err, ErrUploadJobNotFound)
}

func IsMalformedFile(err error) bool {
	return errors.Is(err, ErrMalformedFile)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsIllegalStatusTransition(err error) bool {
	return errors.Is(err, ErrIllegalStatusTransition)
}

func IsEmptyAudience(err error) bool {
	return errors.Is(err, ErrEmptyAudience)
}

func IsProviderTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient)
}

func IsProviderPermanent(err error) bool {
	return errors.Is(err, ErrProviderPermanent)
}

func IsProviderQuota(err error) bool {
	return errors.Is(err, ErrProviderQuota)
}

func IsReceiptUnknownTask(err error) bool {
	return errors.Is(err, ErrReceiptUnknownTask)
}
