package multisend

import (
	"errors"
	"fmt"
	"strings"

	nativecommon "multisender/native/common"
)

var (
	ErrArrayLengthMismatch = errors.New("multisend: array length mismatch")
	ErrInvalidRecipient    = errors.New("multisend: invalid recipient")
	ErrInvalidAmount       = errors.New("multisend: invalid amount")
	ErrInsufficientBalance = errors.New("multisend: insufficient balance")
	ErrAmountOverflow      = errors.New("multisend: amount overflow")
	ErrTooManyRecipients   = errors.New("multisend: too many recipients")
	ErrInvalidSender       = errors.New("multisend: invalid sender")

	// Ownership failures come from the injected capability; they are
	// re-exported so callers only need this package.
	ErrUnauthorizedAccount = nativecommon.ErrUnauthorizedAccount
	ErrInvalidOwner        = nativecommon.ErrInvalidOwner
	ErrModulePaused        = nativecommon.ErrModulePaused
	ErrNotInitialized      = nativecommon.ErrNotInitialized
	ErrAlreadyInitialized  = nativecommon.ErrAlreadyInitialized

	errNilState     = errors.New("multisend engine: state not configured")
	errNilBank      = errors.New("multisend engine: native bank not configured")
	errNilLedger    = errors.New("multisend engine: asset ledger not configured")
	errNilOwnership = errors.New("multisend engine: ownership not configured")
)

// IsPrecondition reports whether err is a rejection raised before any value
// moved. Such calls leave state untouched.
func IsPrecondition(err error) bool {
	for _, target := range []error{
		ErrArrayLengthMismatch,
		ErrInvalidRecipient,
		ErrInvalidAmount,
		ErrInsufficientBalance,
		ErrAmountOverflow,
		ErrTooManyRecipients,
		ErrInvalidSender,
		ErrModulePaused,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorCode returns a stable label for err, used by metrics, logs and API
// error bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrArrayLengthMismatch):
		return "array_length_mismatch"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrAmountOverflow):
		return "amount_overflow"
	case errors.Is(err, ErrTooManyRecipients):
		return "too_many_recipients"
	case errors.Is(err, ErrInvalidSender):
		return "invalid_sender"
	case errors.Is(err, ErrModulePaused):
		return "paused"
	case errors.Is(err, ErrUnauthorizedAccount):
		return "unauthorized"
	case errors.Is(err, ErrInvalidOwner):
		return "invalid_owner"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	default:
		return "other"
	}
}

// ErrorPolicy selects how rejected calls are reported.
type ErrorPolicy uint8

const (
	// PolicyStrict returns typed errors for every rejected call.
	PolicyStrict ErrorPolicy = iota
	// PolicySilent turns rejected calls into no-ops that return no error.
	PolicySilent
)

func (p ErrorPolicy) String() string {
	switch p {
	case PolicyStrict:
		return "strict"
	case PolicySilent:
		return "silent"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParseErrorPolicy parses "strict" or "silent". Empty selects strict.
func ParseErrorPolicy(raw string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "strict":
		return PolicyStrict, nil
	case "silent":
		return PolicySilent, nil
	default:
		return PolicyStrict, fmt.Errorf("multisend: unknown error policy %q", raw)
	}
}

// RefundBasis selects which total native refunds are computed against.
type RefundBasis uint8

const (
	// RefundDelivered refunds everything that did not reach a recipient, so
	// value earmarked for failed transfers goes back to the sender.
	RefundDelivered RefundBasis = iota
	// RefundDeclared refunds only the value supplied above the declared total.
	// Amounts of failed transfers stay in the engine vault until drained.
	RefundDeclared
)

func (b RefundBasis) String() string {
	switch b {
	case RefundDelivered:
		return "delivered"
	case RefundDeclared:
		return "declared"
	default:
		return fmt.Sprintf("basis(%d)", uint8(b))
	}
}

// ParseRefundBasis parses "delivered" or "declared". Empty selects delivered.
func ParseRefundBasis(raw string) (RefundBasis, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "delivered":
		return RefundDelivered, nil
	case "declared":
		return RefundDeclared, nil
	default:
		return RefundDelivered, fmt.Errorf("multisend: unknown refund basis %q", raw)
	}
}
