package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrTransferInProgress is returned when another invocation holds the lock
	// for the same destination prefix.
	ErrTransferInProgress = errors.New("a transfer is already in progress for this destination")

	// ErrNoFilesStaged is returned when files were selected but none survived
	// fetch and decompression.
	ErrNoFilesStaged = errors.New("no files could be downloaded or decompressed")
)

// Side names the store a connectivity failure happened against.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// ConnectivityError means a store was unreachable or refused credentials. It is
// fatal to the invocation.
type ConnectivityError struct {
	Side Side
	Op   string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Side, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Hint is the caller-facing explanation for the failure. The wrapped cause stays
// in the logs.
func (e *ConnectivityError) Hint() string {
	switch e.Side {
	case SideSource:
		return fmt.Sprintf("could not reach the SFTP source (%s); check that the VPN link to the SFTP host is up and the credentials are valid", e.Op)
	default:
		return fmt.Sprintf("could not reach the destination bucket (%s); check the bucket name and service credentials", e.Op)
	}
}

// ParseError marks a name without a usable date token.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse date in %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TransferError is a per-file download, staging or upload failure.
type TransferError struct {
	Name string
	Op   string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// DecompressError is a corrupt or malformed compressed stream.
type DecompressError struct {
	Name string
	Err  error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("decompress %s: %v", e.Name, e.Err)
}

func (e *DecompressError) Unwrap() error {
	return e.Err
}

// FailureMessage renders err for callers without leaking internal detail.
func FailureMessage(err error) string {
	var connErr *ConnectivityError
	switch {
	case errors.As(err, &connErr):
		return connErr.Hint()
	case errors.Is(err, ErrTransferInProgress), errors.Is(err, ErrNoFilesStaged):
		return err.Error()
	default:
		return "transfer failed; see server logs for details"
	}
}
