package multisend

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"multisender/core/types"
)

const (
	EventTypeTransferSucceeded    = "multisend.transfer.succeeded"
	EventTypeTransferFailed       = "multisend.transfer.failed"
	EventTypeBatchNative          = "multisend.batch.native"
	EventTypeBatchAsset           = "multisend.batch.asset"
	EventTypeRefundFailed         = "multisend.refund.failed"
	EventTypeEmergencyDrain       = "multisend.drain"
	EventTypeOwnershipTransferred = "multisend.ownership.transferred"
	EventTypePaused               = "multisend.paused"
	EventTypeResumed              = "multisend.resumed"
)

type multisendEvent struct {
	evt *types.Event
}

func (e multisendEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e multisendEvent) Event() *types.Event { return e.evt }

// NewTransferSucceededEvent returns the payload emitted once per delivered
// recipient.
func NewTransferSucceededEvent(mode Mode, asset common.Address, o Outcome) *types.Event {
	attrs := outcomeAttrs(mode, asset, o)
	return &types.Event{Type: EventTypeTransferSucceeded, Attributes: attrs}
}

// NewTransferFailedEvent returns the payload emitted once per failed
// recipient. The reason attribute carries the stable code and the message
// attribute the human readable text.
func NewTransferFailedEvent(mode Mode, asset common.Address, o Outcome) *types.Event {
	attrs := outcomeAttrs(mode, asset, o)
	attrs["reason"] = string(o.Reason)
	attrs["message"] = o.Reason.Description()
	if detail := strings.TrimSpace(o.Detail); detail != "" {
		attrs["detail"] = detail
	}
	return &types.Event{Type: EventTypeTransferFailed, Attributes: attrs}
}

// NewBatchEvent returns the aggregate payload for an accepted batch.
func NewBatchEvent(r *Receipt) *types.Event {
	eventType := EventTypeBatchNative
	if r != nil && r.Mode == ModeAsset {
		eventType = EventTypeBatchAsset
	}
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = r.ID
	attrs["sender"] = r.Sender.Hex()
	attrs["recipients"] = strconv.Itoa(len(r.Outcomes))
	attrs["successes"] = strconv.FormatUint(r.Successes, 10)
	attrs["failures"] = strconv.FormatUint(r.Failures, 10)
	attrs["total"] = amountString(r.DeclaredTotal)
	attrs["delivered"] = amountString(r.DeliveredTotal)
	attrs["timestamp"] = strconv.FormatInt(r.Timestamp, 10)
	if r.Mode == ModeAsset {
		attrs["asset"] = r.Asset.Hex()
	} else {
		attrs["value"] = amountString(r.Supplied)
		attrs["refund"] = amountString(r.Refund)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewRefundFailedEvent is emitted when returning excess value to the sender
// fails. The batch itself still stands.
func NewRefundFailedEvent(id string, sender common.Address, amount *uint256.Int, detail string) *types.Event {
	attrs := map[string]string{
		"id":     id,
		"sender": sender.Hex(),
		"amount": amountString(amount),
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		attrs["detail"] = detail
	}
	return &types.Event{Type: EventTypeRefundFailed, Attributes: attrs}
}

// NewEmergencyDrainEvent records a drain of the engine vault to the owner.
func NewEmergencyDrainEvent(owner common.Address, amount *uint256.Int) *types.Event {
	return &types.Event{Type: EventTypeEmergencyDrain, Attributes: map[string]string{
		"owner":  owner.Hex(),
		"amount": amountString(amount),
	}}
}

// NewOwnershipTransferredEvent records an ownership change. Renouncing
// reports the zero address as the new owner.
func NewOwnershipTransferredEvent(previous, next common.Address) *types.Event {
	return &types.Event{Type: EventTypeOwnershipTransferred, Attributes: map[string]string{
		"previousOwner": previous.Hex(),
		"newOwner":      next.Hex(),
	}}
}

// NewPauseEvent records a pause toggle.
func NewPauseEvent(paused bool, by common.Address) *types.Event {
	eventType := EventTypeResumed
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"module": ModuleName,
		"by":     by.Hex(),
	}}
}

func outcomeAttrs(mode Mode, asset common.Address, o Outcome) map[string]string {
	attrs := map[string]string{
		"mode":      string(mode),
		"index":     strconv.Itoa(o.Index),
		"recipient": o.Recipient.Hex(),
		"amount":    amountString(o.Amount),
	}
	if mode == ModeAsset {
		attrs["asset"] = asset.Hex()
	}
	return attrs
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
