package models

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrEmptyPage        = errors.New("page yielded no quiz text")
	ErrNoSubmitURL      = errors.New("no submit url found in page")
	ErrMalformedVerdict = errors.New("malformed verdict")
	ErrPayloadTooLarge  = errors.New("submission payload exceeds size limit")
)

// Stage identifies the orchestration stage an error came from
type Stage string

const (
	StageFetch      Stage = "fetch"
	StagePlan       Stage = "plan"
	StageExecute    Stage = "execute"
	StageSynthesize Stage = "synthesize"
	StageSubmit     Stage = "submit"
)

// StageError wraps an unrecoverable failure of one stage
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

// NewStageError wraps err with its stage
func NewStageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// ErrorClass tells the caller whether retrying can help
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

// StepError is a classified failure of a step or a network call
type StepError struct {
	Class ErrorClass
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable
func Transient(err error) error {
	return &StepError{Class: ClassTransient, Err: err}
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	return &StepError{Class: ClassPermanent, Err: err}
}

// IsTransient reports whether err is classified as transient.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var se *StepError
	if errors.As(err, &se) {
		return se.Class == ClassTransient
	}
	return false
}
