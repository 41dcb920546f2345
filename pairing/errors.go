package pairing

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTxParams = errors.New("missing transaction params")
	ErrEmptyABI        = errors.New("empty contract abi")
	ErrInvalidValue    = errors.New("invalid transaction value")
	ErrSuperseded      = errors.New("transport superseded")
	ErrClosed          = errors.New("session controller closed")
)

// DecodeStep names the stage of call decoding that failed.
type DecodeStep string

const (
	StepParams     DecodeStep = "params"
	StepResolveABI DecodeStep = "resolve_abi"
	StepDecodeCall DecodeStep = "decode_call"
)

// CallDecodeError is the single failure kind reported by CallDecoder.
type CallDecodeError struct {
	Step DecodeStep
	Err  error
}

func (e *CallDecodeError) Error() string {
	return fmt.Sprintf("call decode failed at %s: %v", e.Step, e.Err)
}

func (e *CallDecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(step DecodeStep, err error) error {
	return &CallDecodeError{Step: step, Err: err}
}
