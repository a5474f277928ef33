package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrProtocol      = errors.New("protocol error")
	ErrNotConnected  = errors.New("channel not connected")
	ErrSessionActive = errors.New("a transfer is already in progress")
	ErrChannelClosed = errors.New("channel closed")
	ErrBufferTimeout = errors.New("buffer drain timeout")
	ErrShortRead     = errors.New("file shorter than its declared size")
	ErrCancelled     = errors.New("transfer cancelled")
)

type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	msg := e.Op
	if e.File != "" {
		msg += " " + e.File
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}
