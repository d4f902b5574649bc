package raffle

import "fmt"

// Code classifies raffle failures.
type Code string

const (
	CodeInsufficientPayment  Code = "INSUFFICIENT_PAYMENT"
	CodeRoundNotOpen         Code = "ROUND_NOT_OPEN"
	CodeUpkeepNotNeeded      Code = "UPKEEP_NOT_NEEDED"
	CodeUnknownRequest       Code = "UNKNOWN_REQUEST"
	CodePayoutTransferFailed Code = "PAYOUT_TRANSFER_FAILED"
	CodeRequestOutstanding   Code = "REQUEST_OUTSTANDING"
)

// Error is a raffle failure. Operations that return one have made no change.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrInsufficientPayment  = &Error{Code: CodeInsufficientPayment, Message: "raffle: not enough value to enter"}
	ErrRoundNotOpen         = &Error{Code: CodeRoundNotOpen, Message: "raffle: round not open"}
	ErrUpkeepNotNeeded      = &Error{Code: CodeUpkeepNotNeeded, Message: "raffle: upkeep not needed"}
	ErrUnknownRequest       = &Error{Code: CodeUnknownRequest, Message: "raffle: unknown randomness request"}
	ErrPayoutTransferFailed = &Error{Code: CodePayoutTransferFailed, Message: "raffle: payout transfer failed"}
	ErrRequestOutstanding   = &Error{Code: CodeRequestOutstanding, Message: "raffle: randomness request already outstanding"}
)

func newError(sentinel *Error, metadata map[string]string, cause error) *Error {
	return &Error{Code: sentinel.Code, Message: sentinel.Message, Metadata: metadata, Cause: cause}
}
