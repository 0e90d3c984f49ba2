package multisend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"multisender/core/events"
	"multisender/core/state"
	"multisender/ledger"
	"multisender/ledger/erc20"
	nativecommon "multisender/native/common"
	"multisender/state/bank"
	"multisender/state/token"
	"multisender/storage"
)

var (
	vault  = common.HexToAddress("0x00000000000000000000000000000000000005e0")
	owner  = common.HexToAddress("0x0a")
	sender = common.HexToAddress("0xa1")
	alice  = common.HexToAddress("0xa2")
	bob    = common.HexToAddress("0xb0")
	usd    = common.HexToAddress("0x00000000000000000000000000000000000000d0")
)

type harness struct {
	engine   *Engine
	manager  *state.Manager
	bank     *bank.Ledger
	tokens   *token.Ledger
	recorder *events.Recorder
}

type assetLedgerFunc func(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) (bool, error)

func (f assetLedgerFunc) TransferFrom(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) (bool, error) {
	return f(ctx, asset, from, to, amount)
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	db := storage.NewMemDB()
	h := &harness{
		manager:  state.NewManager(db),
		bank:     bank.NewLedger(db),
		tokens:   token.NewLedger(db),
		recorder: events.NewRecorder(0),
	}
	require.NoError(t, h.tokens.Register(usd, "USD", 6))
	seq := 0
	base := []Option{
		WithState(h.manager),
		WithBank(h.bank),
		WithAssetLedger(erc20.NewClient(token.NewHost(h.tokens), vault)),
		WithOwnership(nativecommon.NewOwnable(h.manager)),
		WithPauses(h.manager),
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("batch-%d", seq)
		}),
	}
	h.engine = NewEngine(vault, append(base, opts...)...)
	h.engine.SetEmitter(h.recorder)
	require.NoError(t, h.engine.Initialize(context.Background(), owner))
	require.NoError(t, h.bank.Credit(sender, uint256.NewInt(1_000)))
	h.recorder.Reset()
	return h
}

func (h *harness) balance(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	bal, err := h.bank.Balance(addr)
	require.NoError(t, err)
	return bal.Uint64()
}

func (h *harness) stats(t *testing.T) (uint64, uint64, uint64) {
	t.Helper()
	batches, err := h.engine.TotalBatches()
	require.NoError(t, err)
	served, err := h.engine.TotalRecipientsServed()
	require.NoError(t, err)
	count, err := h.engine.BatchCountFor(sender)
	require.NoError(t, err)
	return batches.Uint64(), served.Uint64(), count.Uint64()
}

func nativeCall(value uint64) Call {
	return Call{Sender: sender, Value: uint256.NewInt(value)}
}

func TestInitializeZeroesStats(t *testing.T) {
	h := newHarness(t)
	batches, served, count := h.stats(t)
	require.Zero(t, batches)
	require.Zero(t, served)
	require.Zero(t, count)

	got, err := h.engine.Owner()
	require.NoError(t, err)
	require.Equal(t, owner, got)

	err = h.engine.Initialize(context.Background(), alice)
	require.ErrorIs(t, err, nativecommon.ErrAlreadyInitialized)
}

func TestBatchSendNativeWithZeroRecipient(t *testing.T) {
	h := newHarness(t)
	receipt, err := h.engine.BatchSendNative(context.Background(), nativeCall(70),
		[]common.Address{alice, bob, {}}, amounts(10, 20, 30))
	require.NoError(t, err)
	require.NotNil(t, receipt)

	require.Equal(t, uint64(10), h.balance(t, alice))
	require.Equal(t, uint64(20), h.balance(t, bob))
	require.Equal(t, uint64(2), receipt.Successes)
	require.Equal(t, uint64(1), receipt.Failures)
	require.Equal(t, uint64(60), receipt.DeclaredTotal.Uint64())
	require.Equal(t, uint64(30), receipt.DeliveredTotal.Uint64())

	// Default basis refunds everything that was not delivered.
	require.Equal(t, uint64(40), receipt.Refund.Uint64())
	require.False(t, receipt.RefundFailed)
	require.Equal(t, uint64(1_000-30), h.balance(t, sender))
	require.Zero(t, h.balance(t, vault))

	failed := receipt.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, 2, failed[0].Index)
	require.Equal(t, ReasonInvalidRecipient, failed[0].Reason)

	batches, served, count := h.stats(t)
	require.Equal(t, uint64(1), batches)
	require.Equal(t, uint64(2), served)
	require.Equal(t, uint64(1), count)

	require.Len(t, h.recorder.OfType(EventTypeTransferSucceeded), 2)
	fails := h.recorder.OfType(EventTypeTransferFailed)
	require.Len(t, fails, 1)
	require.Equal(t, "Invalid recipient address", fails[0].Attributes["message"])
	require.Equal(t, "30", fails[0].Attributes["amount"])

	all := h.recorder.Events()
	last := all[len(all)-1]
	require.Equal(t, EventTypeBatchNative, last.Type)
	require.Equal(t, "2", last.Attributes["successes"])
	require.Equal(t, "3", last.Attributes["recipients"])
	require.Equal(t, "40", last.Attributes["refund"])
	require.Equal(t, "batch-1", last.Attributes["id"])
}

func TestBatchSendNativeDeclaredRefundBasis(t *testing.T) {
	h := newHarness(t, WithRefundBasis(RefundDeclared))
	receipt, err := h.engine.BatchSendNative(context.Background(), nativeCall(70),
		[]common.Address{alice, bob, {}}, amounts(10, 20, 30))
	require.NoError(t, err)

	// Only the excess over the declared total goes back; the failed 30 stays
	// in the vault.
	require.Equal(t, uint64(10), receipt.Refund.Uint64())
	require.Equal(t, uint64(1_000-60), h.balance(t, sender))
	require.Equal(t, uint64(30), h.balance(t, vault))

	drained, err := h.engine.EmergencyDrain(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, uint64(30), drained.Uint64())
	require.Equal(t, uint64(30), h.balance(t, owner))
	require.Zero(t, h.balance(t, vault))
	require.Len(t, h.recorder.OfType(EventTypeEmergencyDrain), 1)
}

func TestBatchSendNativeRejectingRecipient(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bank.SetRejecting(bob, true))

	receipt, err := h.engine.BatchSendNative(context.Background(), nativeCall(30),
		[]common.Address{alice, bob}, amounts(10, 20))
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Successes)
	failed := receipt.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, ReasonTransferFailed, failed[0].Reason)
	require.Contains(t, failed[0].Detail, "rejects")
	require.Equal(t, uint64(20), receipt.Refund.Uint64())
	require.Equal(t, uint64(1_000-10), h.balance(t, sender))
}

func TestBatchSendNativeRefundFailureKeepsBatch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bank.SetRejecting(sender, true))

	receipt, err := h.engine.BatchSendNative(context.Background(), nativeCall(50),
		[]common.Address{alice}, amounts(10))
	require.NoError(t, err)
	require.True(t, receipt.RefundFailed)
	require.Equal(t, uint64(40), h.balance(t, vault))
	require.Len(t, h.recorder.OfType(EventTypeRefundFailed), 1)

	all := h.recorder.Events()
	require.Equal(t, EventTypeBatchNative, all[len(all)-2].Type)
	require.Equal(t, EventTypeRefundFailed, all[len(all)-1].Type)

	batches, served, _ := h.stats(t)
	require.Equal(t, uint64(1), batches)
	require.Equal(t, uint64(1), served)
}

func TestBatchSendNativePreconditionsLeaveStateUntouched(t *testing.T) {
	cases := []struct {
		name       string
		call       Call
		recipients []common.Address
		amounts    []*uint256.Int
		want       error
	}{
		{"value below total", nativeCall(29), []common.Address{alice, bob}, amounts(10, 20), ErrInsufficientBalance},
		{"nil value", Call{Sender: sender}, []common.Address{alice}, amounts(1), ErrInsufficientBalance},
		{"sender cannot cover value", nativeCall(5_000), []common.Address{alice}, amounts(10), ErrInsufficientBalance},
		{"mismatch", nativeCall(10), []common.Address{alice, bob}, amounts(10), ErrArrayLengthMismatch},
		{"empty", nativeCall(10), nil, nil, ErrInvalidRecipient},
		{"zero amount", nativeCall(10), []common.Address{alice}, amounts(0), ErrInvalidAmount},
		{"overflow", nativeCall(10), []common.Address{alice, bob}, []*uint256.Int{maxAmount(), uint256.NewInt(1)}, ErrAmountOverflow},
		{"zero sender", Call{Value: uint256.NewInt(10)}, []common.Address{alice}, amounts(10), ErrInvalidSender},
		{"vault sender", Call{Sender: vault, Value: uint256.NewInt(10)}, []common.Address{alice}, amounts(10), ErrInvalidSender},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			receipt, err := h.engine.BatchSendNative(context.Background(), tc.call, tc.recipients, tc.amounts)
			require.ErrorIs(t, err, tc.want)
			require.Nil(t, receipt)
			require.Equal(t, uint64(1_000), h.balance(t, sender))
			require.Zero(t, h.balance(t, alice))
			require.Zero(t, h.balance(t, vault))
			batches, served, count := h.stats(t)
			require.Zero(t, batches)
			require.Zero(t, served)
			require.Zero(t, count)
			require.Empty(t, h.recorder.Events())
		})
	}
}

func TestSilentPolicySwallowsRejections(t *testing.T) {
	h := newHarness(t, WithPolicy(PolicySilent))
	receipt, err := h.engine.BatchSendNative(context.Background(), nativeCall(5),
		[]common.Address{alice}, amounts(10))
	require.NoError(t, err)
	require.Nil(t, receipt)

	receipt, err = h.engine.BatchSendAsset(context.Background(), sender, common.Address{},
		[]common.Address{alice}, amounts(10))
	require.NoError(t, err)
	require.Nil(t, receipt)

	drained, err := h.engine.EmergencyDrain(context.Background(), alice)
	require.NoError(t, err)
	require.Nil(t, drained)

	require.NoError(t, h.engine.TransferOwnership(context.Background(), alice, bob))
	got, err := h.engine.Owner()
	require.NoError(t, err)
	require.Equal(t, owner, got)

	batches, _, _ := h.stats(t)
	require.Zero(t, batches)
	require.Empty(t, h.recorder.Events())
}

func TestBatchSendAsset(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.tokens.Mint(usd, sender, uint256.NewInt(100)))
	require.NoError(t, h.tokens.Approve(usd, sender, vault, uint256.NewInt(100)))

	receipt, err := h.engine.BatchSendAsset(context.Background(), sender, usd,
		[]common.Address{alice, {}, bob}, amounts(40, 5, 50))
	require.NoError(t, err)
	require.Equal(t, uint64(2), receipt.Successes)
	require.Equal(t, uint64(90), receipt.DeliveredTotal.Uint64())
	require.Equal(t, ReasonInvalidRecipient, receipt.Failed()[0].Reason)

	bal, err := h.tokens.BalanceOf(usd, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(40), bal.Uint64())
	allowance, err := h.tokens.Allowance(usd, sender, vault)
	require.NoError(t, err)
	require.Equal(t, uint64(10), allowance.Uint64())

	batches, served, count := h.stats(t)
	require.Equal(t, uint64(1), batches)
	require.Equal(t, uint64(2), served)
	require.Equal(t, uint64(1), count)

	all := h.recorder.Events()
	last := all[len(all)-1]
	require.Equal(t, EventTypeBatchAsset, last.Type)
	require.Equal(t, usd.Hex(), last.Attributes["asset"])
}

func TestBatchSendAssetInsufficientAllowanceIsNonTrueReturn(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.tokens.Mint(usd, sender, uint256.NewInt(100)))
	require.NoError(t, h.tokens.Approve(usd, sender, vault, uint256.NewInt(30)))

	receipt, err := h.engine.BatchSendAsset(context.Background(), sender, usd,
		[]common.Address{alice, bob}, amounts(20, 20))
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Successes)
	require.Equal(t, ReasonNonTrueReturn, receipt.Failed()[0].Reason)

	// A batch with no successes still counts.
	receipt, err = h.engine.BatchSendAsset(context.Background(), sender, usd,
		[]common.Address{alice}, amounts(50))
	require.NoError(t, err)
	require.Zero(t, receipt.Successes)
	batches, served, count := h.stats(t)
	require.Equal(t, uint64(2), batches)
	require.Equal(t, uint64(1), served)
	require.Equal(t, uint64(2), count)
}

func TestBatchSendAssetFailureClassification(t *testing.T) {
	errBoom := errors.New("boom")
	h := newHarness(t, WithAssetLedger(assetLedgerFunc(
		func(_ context.Context, _, _, to common.Address, _ *uint256.Int) (bool, error) {
			switch to {
			case alice:
				return false, errBoom
			case bob:
				return false, fmt.Errorf("%w: short reply", ledger.ErrUndecodable)
			default:
				return false, nil
			}
		})))
	receipt, err := h.engine.BatchSendAsset(context.Background(), sender, usd,
		[]common.Address{alice, bob, owner}, amounts(1, 2, 3))
	require.NoError(t, err)
	require.Zero(t, receipt.Successes)
	reasons := []FailureReason{}
	for _, o := range receipt.Outcomes {
		reasons = append(reasons, o.Reason)
	}
	require.Equal(t, []FailureReason{ReasonCallFailed, ReasonDecodeFailed, ReasonNonTrueReturn}, reasons)
	require.Equal(t, "boom", receipt.Outcomes[0].Detail)
}

func TestBatchSendAssetDecodeFailureFromClient(t *testing.T) {
	client := erc20.NewClient(erc20.BackendFunc(
		func(context.Context, common.Address, common.Address, []byte) ([]byte, error) {
			return []byte{0x01}, nil
		}), vault)
	h := newHarness(t, WithAssetLedger(client))
	receipt, err := h.engine.BatchSendAsset(context.Background(), sender, usd,
		[]common.Address{alice}, amounts(1))
	require.NoError(t, err)
	require.Equal(t, ReasonDecodeFailed, receipt.Outcomes[0].Reason)
}

func TestBatchSendAssetUnknownTokenIsCallFailure(t *testing.T) {
	h := newHarness(t)
	receipt, err := h.engine.BatchSendAsset(context.Background(), sender, common.HexToAddress("0xdead"),
		[]common.Address{alice}, amounts(1))
	require.NoError(t, err)
	require.Equal(t, ReasonCallFailed, receipt.Outcomes[0].Reason)
}

func TestBatchSendAssetIgnoresCancelledContext(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.tokens.Mint(usd, sender, uint256.NewInt(10)))
	require.NoError(t, h.tokens.Approve(usd, sender, vault, uint256.NewInt(10)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	receipt, err := h.engine.BatchSendAsset(ctx, sender, usd, []common.Address{alice}, amounts(10))
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Successes)
}

func TestMaxRecipients(t *testing.T) {
	h := newHarness(t, WithMaxRecipients(1))
	require.Equal(t, 1, h.engine.MaxRecipients())
	_, err := h.engine.BatchSendNative(context.Background(), nativeCall(20),
		[]common.Address{alice, bob}, amounts(10, 10))
	require.ErrorIs(t, err, ErrTooManyRecipients)
}

func TestEmergencyDrainRequiresOwner(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.ReceiveValue(context.Background(), sender, uint256.NewInt(25)))
	require.Equal(t, uint64(25), h.balance(t, vault))

	_, err := h.engine.EmergencyDrain(context.Background(), alice)
	require.ErrorIs(t, err, ErrUnauthorizedAccount)
	require.Equal(t, uint64(25), h.balance(t, vault))

	drained, err := h.engine.EmergencyDrain(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, uint64(25), drained.Uint64())

	drained, err = h.engine.EmergencyDrain(context.Background(), owner)
	require.NoError(t, err)
	require.True(t, drained.IsZero())
	require.Len(t, h.recorder.OfType(EventTypeEmergencyDrain), 1)
}

func TestReceiveValue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.ReceiveValue(context.Background(), sender, nil))
	err := h.engine.ReceiveValue(context.Background(), sender, uint256.NewInt(5_000))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.NoError(t, h.engine.ReceiveValue(context.Background(), sender, uint256.NewInt(1)))
	bal, err := h.engine.VaultBalance()
	require.NoError(t, err)
	require.Equal(t, uint64(1), bal.Uint64())
}

func TestOwnershipTransferAndRenounce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.ErrorIs(t, h.engine.TransferOwnership(ctx, alice, bob), ErrUnauthorizedAccount)
	require.ErrorIs(t, h.engine.TransferOwnership(ctx, owner, common.Address{}), ErrInvalidOwner)

	require.NoError(t, h.engine.TransferOwnership(ctx, owner, alice))
	got, err := h.engine.Owner()
	require.NoError(t, err)
	require.Equal(t, alice, got)
	transferred := h.recorder.OfType(EventTypeOwnershipTransferred)
	require.Len(t, transferred, 1)
	require.Equal(t, owner.Hex(), transferred[0].Attributes["previousOwner"])

	_, err = h.engine.EmergencyDrain(ctx, owner)
	require.ErrorIs(t, err, ErrUnauthorizedAccount)

	require.NoError(t, h.engine.RenounceOwnership(ctx, alice))
	got, err = h.engine.Owner()
	require.NoError(t, err)
	require.Equal(t, common.Address{}, got)

	_, err = h.engine.EmergencyDrain(ctx, alice)
	require.ErrorIs(t, err, ErrUnauthorizedAccount)
	require.ErrorIs(t, h.engine.Pause(ctx, alice), ErrUnauthorizedAccount)
	require.ErrorIs(t, h.engine.TransferOwnership(ctx, common.Address{}, bob), ErrUnauthorizedAccount)
}

func TestPauseBlocksBatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.ErrorIs(t, h.engine.Pause(ctx, alice), ErrUnauthorizedAccount)
	require.NoError(t, h.engine.Pause(ctx, owner))
	require.True(t, h.engine.Paused())

	_, err := h.engine.BatchSendNative(ctx, nativeCall(10), []common.Address{alice}, amounts(10))
	require.ErrorIs(t, err, ErrModulePaused)
	require.Equal(t, uint64(1_000), h.balance(t, sender))

	// Administrative operations keep working while paused.
	require.NoError(t, h.engine.ReceiveValue(ctx, sender, uint256.NewInt(3)))
	_, err = h.engine.EmergencyDrain(ctx, owner)
	require.NoError(t, err)

	require.NoError(t, h.engine.Resume(ctx, owner))
	require.False(t, h.engine.Paused())
	_, err = h.engine.BatchSendNative(ctx, nativeCall(10), []common.Address{alice}, amounts(10))
	require.NoError(t, err)
	require.Len(t, h.recorder.OfType(EventTypePaused), 1)
	require.Len(t, h.recorder.OfType(EventTypeResumed), 1)
}

func TestStatsAccumulatePerSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.bank.Credit(alice, uint256.NewInt(100)))
	for i := 0; i < 3; i++ {
		_, err := h.engine.BatchSendNative(ctx, nativeCall(2), []common.Address{bob, owner}, amounts(1, 1))
		require.NoError(t, err)
	}
	_, err := h.engine.BatchSendNative(ctx, Call{Sender: alice, Value: uint256.NewInt(1)},
		[]common.Address{bob}, amounts(1))
	require.NoError(t, err)

	batches, served, count := h.stats(t)
	require.Equal(t, uint64(4), batches)
	require.Equal(t, uint64(7), served)
	require.Equal(t, uint64(3), count)
	aliceCount, err := h.engine.BatchCountFor(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1), aliceCount.Uint64())
	unknown, err := h.engine.BatchCountFor(common.HexToAddress("0xffff"))
	require.NoError(t, err)
	require.True(t, unknown.IsZero())
}

func TestEngineWithoutDependencies(t *testing.T) {
	e := NewEngine(vault)
	_, err := e.BatchSendNative(context.Background(), nativeCall(1), []common.Address{alice}, amounts(1))
	require.Error(t, err)
	require.False(t, IsPrecondition(err))
	_, err = e.Owner()
	require.Error(t, err)
	require.Equal(t, uint64(21_000+23_000), e.EstimateGas(ModeNative, 1).Uint64())
	require.Equal(t, uint64(21_000+65_000), e.EstimateGas(ModeAsset, 1).Uint64())
}

func TestVaultCannotSpendItsOwnFunds(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.ReceiveValue(context.Background(), sender, uint256.NewInt(500)))
	require.NoError(t, h.tokens.Mint(usd, vault, uint256.NewInt(80)))
	h.recorder.Reset()

	receipt, err := h.engine.BatchSendNative(context.Background(),
		Call{Sender: vault, Value: uint256.NewInt(500)}, []common.Address{bob}, amounts(500))
	require.ErrorIs(t, err, ErrInvalidSender)
	require.Nil(t, receipt)
	require.Equal(t, uint64(500), h.balance(t, vault))
	require.Zero(t, h.balance(t, bob))

	receipt, err = h.engine.BatchSendAsset(context.Background(), vault, usd,
		[]common.Address{bob}, amounts(80))
	require.ErrorIs(t, err, ErrInvalidSender)
	require.Nil(t, receipt)
	held, err := h.tokens.BalanceOf(usd, vault)
	require.NoError(t, err)
	require.Equal(t, uint64(80), held.Uint64())

	err = h.engine.ReceiveValue(context.Background(), vault, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidSender)

	batches, _, _ := h.stats(t)
	require.Zero(t, batches)
	require.Empty(t, h.recorder.Events())
}

func TestBatchEventFollowsStatisticsCommit(t *testing.T) {
	h := newHarness(t)
	type snapshot struct {
		eventType string
		successes string
		batches   uint64
		served    uint64
	}
	var seen []snapshot
	h.engine.SetEmitter(events.MultiEmitter{h.recorder, events.EmitterFunc(func(evt events.Event) {
		if evt.EventType() != EventTypeBatchNative && evt.EventType() != EventTypeBatchAsset {
			return
		}
		batches, err := h.engine.TotalBatches()
		require.NoError(t, err)
		served, err := h.engine.TotalRecipientsServed()
		require.NoError(t, err)
		seen = append(seen, snapshot{
			eventType: evt.EventType(),
			successes: events.Canonical(evt).Attributes["successes"],
			batches:   batches.Uint64(),
			served:    served.Uint64(),
		})
	})})

	_, err := h.engine.BatchSendNative(context.Background(), nativeCall(70),
		[]common.Address{alice, bob, {}}, amounts(10, 20, 30))
	require.NoError(t, err)

	require.NoError(t, h.tokens.Mint(usd, sender, uint256.NewInt(100)))
	require.NoError(t, h.tokens.Approve(usd, sender, vault, uint256.NewInt(5)))
	_, err = h.engine.BatchSendAsset(context.Background(), sender, usd,
		[]common.Address{alice}, amounts(5))
	require.NoError(t, err)

	require.Equal(t, []snapshot{
		{eventType: EventTypeBatchNative, successes: "2", batches: 1, served: 2},
		{eventType: EventTypeBatchAsset, successes: "1", batches: 2, served: 3},
	}, seen)

	// Per-recipient events precede the aggregate; nothing follows a
	// successful refund.
	all := h.recorder.Events()
	require.Equal(t, EventTypeBatchAsset, all[len(all)-1].Type)
	require.Equal(t, EventTypeBatchNative, all[3].Type)
	for _, evt := range all[:3] {
		require.NotEqual(t, EventTypeBatchNative, evt.Type)
	}
}

type senderCountFailure struct {
	*state.Manager
}

func (senderCountFailure) MultisendSenderCount(common.Address) (*uint256.Int, error) {
	return nil, errors.New("index unavailable")
}

func TestCommitLogsSenderCountFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	db := storage.NewMemDB()
	manager := state.NewManager(db)
	ledgerBank := bank.NewLedger(db)
	require.NoError(t, ledgerBank.Credit(sender, uint256.NewInt(100)))
	engine := NewEngine(vault,
		WithState(senderCountFailure{manager}),
		WithBank(ledgerBank),
		WithOwnership(nativecommon.NewOwnable(manager)),
		WithLogger(logger),
	)
	require.NoError(t, engine.Initialize(context.Background(), owner))

	receipt, err := engine.BatchSendNative(context.Background(), nativeCall(10),
		[]common.Address{alice}, amounts(10))
	require.NoError(t, err)
	require.Nil(t, receipt.SenderBatches)
	require.Equal(t, uint64(1), receipt.TotalBatches.Uint64())
	require.Contains(t, buf.String(), "multisend sender count unavailable")
	require.Contains(t, buf.String(), "index unavailable")
}
