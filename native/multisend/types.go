package multisend

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Mode identifies which asset a batch distributes.
type Mode string

const (
	ModeNative Mode = "native"
	ModeAsset  Mode = "asset"
)

// FailureReason classifies a failed recipient transfer.
type FailureReason string

const (
	ReasonInvalidRecipient FailureReason = "invalid-recipient"
	ReasonTransferFailed   FailureReason = "transfer-failed"
	ReasonCallFailed       FailureReason = "call-failed"
	ReasonDecodeFailed     FailureReason = "decode-failed"
	ReasonNonTrueReturn    FailureReason = "non-true-return"
)

// Description returns the human readable explanation carried by failure
// notifications.
func (r FailureReason) Description() string {
	switch r {
	case ReasonInvalidRecipient:
		return "Invalid recipient address"
	case ReasonTransferFailed:
		return "Transfer failed"
	case ReasonCallFailed:
		return "Token contract call failed"
	case ReasonDecodeFailed:
		return "Failed to decode transfer result"
	case ReasonNonTrueReturn:
		return "Token transfer returned false"
	default:
		return string(r)
	}
}

// Entry is one (recipient, amount) pair of a batch.
type Entry struct {
	Recipient common.Address
	Amount    *uint256.Int
}

// Batch is a validated request. Total is the declared total: the sum of every
// entry amount.
type Batch struct {
	Mode    Mode
	Asset   common.Address
	Entries []Entry
	Total   *uint256.Int
}

// Call carries the caller context of a native batch: who sends and how much
// value accompanies the call.
type Call struct {
	Sender common.Address
	Value  *uint256.Int
}

// Outcome records what happened to one recipient.
type Outcome struct {
	Index     int
	Recipient common.Address
	Amount    *uint256.Int
	Success   bool
	Reason    FailureReason
	Detail    string
}

// Receipt summarises an accepted batch.
type Receipt struct {
	ID             string
	Mode           Mode
	Sender         common.Address
	Asset          common.Address
	DeclaredTotal  *uint256.Int
	DeliveredTotal *uint256.Int
	Supplied       *uint256.Int
	Refund         *uint256.Int
	RefundFailed   bool
	Successes      uint64
	Failures       uint64
	Outcomes       []Outcome
	TotalBatches   *uint256.Int
	TotalServed    *uint256.Int
	SenderBatches  *uint256.Int
	Timestamp      int64
}

// Failed returns the outcomes that did not deliver.
func (r *Receipt) Failed() []Outcome {
	if r == nil {
		return nil
	}
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Success {
			out = append(out, o)
		}
	}
	return out
}

// Stats is a snapshot of the durable aggregate statistics.
type Stats struct {
	TotalBatches          *uint256.Int
	TotalRecipientsServed *uint256.Int
}
