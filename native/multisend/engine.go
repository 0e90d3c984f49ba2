package multisend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"multisender/core/events"
	"multisender/core/state"
	"multisender/core/types"
	"multisender/ledger"
	nativecommon "multisender/native/common"
)

// ModuleName keys the pause flag and labels emitted events.
const ModuleName = "multisend"

type engineState interface {
	MultisendStats() (*state.MultisendStats, error)
	MultisendSenderCount(sender common.Address) (*uint256.Int, error)
	ApplyMultisendBatch(sender common.Address, served uint64) (*state.MultisendStats, error)
	ResetMultisendStats() error
}

// NativeBank moves native value between accounts. Transfer must be atomic:
// it either moves the full amount or nothing.
type NativeBank interface {
	Balance(addr common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// AssetLedger performs delegated token transfers on behalf of the engine. A
// false result means the token declined. Errors wrapping
// ledger.ErrUndecodable mean the reply could not be read.
type AssetLedger interface {
	TransferFrom(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) (bool, error)
}

// Ownership is the owner capability guarding administrative operations.
type Ownership interface {
	Initialize(initial common.Address) error
	CurrentOwner() (common.Address, error)
	RequireOwner(caller common.Address) error
	TransferOwnership(caller, next common.Address) (common.Address, error)
	RenounceOwnership(caller common.Address) (common.Address, error)
}

// Metrics receives engine instrumentation.
type Metrics interface {
	RecordBatch(mode string, d time.Duration)
	RecordTransfer(mode, result string)
	RecordRejection(mode, reason string)
	RecordRefund(result string)
	SetPause(engaged bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordBatch(string, time.Duration) {}
func (noopMetrics) RecordTransfer(string, string)     {}
func (noopMetrics) RecordRejection(string, string)    {}
func (noopMetrics) RecordRefund(string)               {}
func (noopMetrics) SetPause(bool)                     {}

// Option configures an Engine.
type Option func(*Engine)

// WithState supplies the statistics store.
func WithState(s engineState) Option { return func(e *Engine) { e.state = s } }

// WithBank supplies the native value ledger.
func WithBank(b NativeBank) Option { return func(e *Engine) { e.bank = b } }

// WithAssetLedger supplies the token transfer capability.
func WithAssetLedger(l AssetLedger) Option { return func(e *Engine) { e.assets = l } }

// WithOwnership supplies the owner capability.
func WithOwnership(o Ownership) Option { return func(e *Engine) { e.owner = o } }

// WithPauses supplies the pause flag store. Without one the engine can never
// be paused.
func WithPauses(p nativecommon.PauseStore) Option { return func(e *Engine) { e.pauses = p } }

// WithPolicy selects how rejected calls are reported.
func WithPolicy(p ErrorPolicy) Option { return func(e *Engine) { e.policy = p } }

// WithRefundBasis selects the native refund computation.
func WithRefundBasis(b RefundBasis) Option { return func(e *Engine) { e.refundBasis = b } }

// WithMaxRecipients caps the batch size. Zero disables the cap.
func WithMaxRecipients(n int) Option {
	return func(e *Engine) { e.validator.MaxRecipients = n }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock sets the function used to stamp receipts.
func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.now = clock } }

// WithIDGenerator sets the receipt identifier source.
func WithIDGenerator(gen func() string) Option { return func(e *Engine) { e.newID = gen } }

// Engine distributes native value or tokens from one sender to many
// recipients. Calls are serialised; a batch runs to completion before the
// next one starts.
type Engine struct {
	mu sync.Mutex

	address     common.Address
	state       engineState
	bank        NativeBank
	assets      AssetLedger
	owner       Ownership
	pauses      nativecommon.PauseStore
	emitter     events.Emitter
	metrics     Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	validator   Validator
	policy      ErrorPolicy
	refundBasis RefundBasis
	now         func() time.Time
	newID       func() string
}

// NewEngine creates an engine whose vault lives at address. The address
// holds native value in flight and is the spender for delegated token
// transfers.
func NewEngine(address common.Address, opts ...Option) *Engine {
	e := &Engine{
		address: address,
		emitter: events.NoopEmitter{},
		metrics: noopMetrics{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("multisender/multisend"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Address returns the engine vault address.
func (e *Engine) Address() common.Address { return e.address }

// Policy returns the configured error policy.
func (e *Engine) Policy() ErrorPolicy { return e.policy }

// RefundBasis returns the configured refund computation.
func (e *Engine) RefundBasis() RefundBasis { return e.refundBasis }

// MaxRecipients returns the batch size cap, zero meaning unlimited.
func (e *Engine) MaxRecipients() int { return e.validator.MaxRecipients }

func (e *Engine) emit(event *types.Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(multisendEvent{evt: event})
}

// reject reports a refused call according to the policy. Silent policy
// swallows the error after recording it.
func (e *Engine) reject(span trace.Span, op string, err error) error {
	reason := ErrorCode(err)
	e.metrics.RecordRejection(op, reason)
	span.SetAttributes(attribute.String("multisend.rejection", reason))
	if e.policy == PolicySilent {
		e.logger.Debug("multisend call ignored", "op", op, "reason", reason, "err", err)
		span.SetStatus(codes.Ok, "ignored")
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Initialize records the initial owner and zeroes the aggregate statistics.
func (e *Engine) Initialize(ctx context.Context, initialOwner common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, span := e.tracer.Start(ctx, "multisend.initialize")
	defer span.End()
	if e.state == nil {
		return fail(span, errNilState)
	}
	if e.owner == nil {
		return fail(span, errNilOwnership)
	}
	if err := e.owner.Initialize(initialOwner); err != nil {
		if errors.Is(err, ErrInvalidOwner) || errors.Is(err, nativecommon.ErrAlreadyInitialized) {
			return e.reject(span, "initialize", err)
		}
		return fail(span, err)
	}
	if err := e.state.ResetMultisendStats(); err != nil {
		return fail(span, fmt.Errorf("multisend: reset statistics: %w", err))
	}
	e.emit(NewOwnershipTransferredEvent(common.Address{}, initialOwner))
	e.logger.Info("multisend initialized", "owner", initialOwner.Hex(), "vault", e.address.Hex())
	return nil
}

// BatchSendNative delivers amounts[i] of native value to recipients[i]. The
// call value must cover the declared total. Individual recipient failures are
// reported in the receipt and never abort the batch. Under the silent policy a
// rejected call returns a nil receipt and a nil error.
func (e *Engine) BatchSendNative(ctx context.Context, call Call, recipients []common.Address, amounts []*uint256.Int) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.now()
	_, span := e.tracer.Start(ctx, "multisend.batch_native",
		trace.WithAttributes(
			attribute.String("multisend.sender", call.Sender.Hex()),
			attribute.Int("multisend.recipients", len(recipients)),
		))
	defer span.End()

	if e.state == nil {
		return nil, fail(span, errNilState)
	}
	if e.bank == nil {
		return nil, fail(span, errNilBank)
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, e.reject(span, string(ModeNative), err)
	}
	batch, err := e.validator.ValidateNative(recipients, amounts)
	if err != nil {
		return nil, e.reject(span, string(ModeNative), err)
	}
	if call.Sender == (common.Address{}) || call.Sender == e.address {
		return nil, e.reject(span, string(ModeNative), ErrInvalidSender)
	}
	value := new(uint256.Int)
	if call.Value != nil {
		value.Set(call.Value)
	}
	if value.Lt(batch.Total) {
		return nil, e.reject(span, string(ModeNative), ErrInsufficientBalance)
	}
	if !value.IsZero() {
		balance, err := e.bank.Balance(call.Sender)
		if err != nil {
			return nil, fail(span, fmt.Errorf("multisend: load sender balance: %w", err))
		}
		if balance.Lt(value) {
			return nil, e.reject(span, string(ModeNative), ErrInsufficientBalance)
		}
		if err := e.bank.Transfer(call.Sender, e.address, value); err != nil {
			return nil, fail(span, fmt.Errorf("multisend: collect call value: %w", err))
		}
	}

	// The call value now sits in the vault; the batch runs to completion.
	receipt := e.newReceipt(ModeNative, call.Sender, batch)
	receipt.Supplied = value
	for i, entry := range batch.Entries {
		outcome := Outcome{Index: i, Recipient: entry.Recipient, Amount: entry.Amount}
		switch {
		case entry.Recipient == (common.Address{}):
			outcome.Reason = ReasonInvalidRecipient
		default:
			if err := e.bank.Transfer(e.address, entry.Recipient, entry.Amount); err != nil {
				outcome.Reason = ReasonTransferFailed
				outcome.Detail = err.Error()
			} else {
				outcome.Success = true
			}
		}
		e.recordOutcome(receipt, outcome)
	}

	switch e.refundBasis {
	case RefundDeclared:
		receipt.Refund = new(uint256.Int).Sub(value, batch.Total)
	default:
		receipt.Refund = new(uint256.Int).Sub(value, receipt.DeliveredTotal)
	}

	statsErr := e.commit(receipt)
	if !receipt.Refund.IsZero() {
		e.refund(receipt)
	}
	if statsErr != nil {
		return receipt, fail(span, statsErr)
	}
	e.finish(span, receipt, start)
	return receipt, nil
}

// BatchSendAsset moves amounts[i] of asset from the caller to recipients[i]
// using the allowance the caller granted the engine. Recipient failures are
// reported in the receipt and never abort the batch.
func (e *Engine) BatchSendAsset(ctx context.Context, sender, asset common.Address, recipients []common.Address, amounts []*uint256.Int) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "multisend.batch_asset",
		trace.WithAttributes(
			attribute.String("multisend.sender", sender.Hex()),
			attribute.String("multisend.asset", asset.Hex()),
			attribute.Int("multisend.recipients", len(recipients)),
		))
	defer span.End()

	if e.state == nil {
		return nil, fail(span, errNilState)
	}
	if e.assets == nil {
		return nil, fail(span, errNilLedger)
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, e.reject(span, string(ModeAsset), err)
	}
	batch, err := e.validator.ValidateAsset(asset, recipients, amounts)
	if err != nil {
		return nil, e.reject(span, string(ModeAsset), err)
	}
	if sender == (common.Address{}) || sender == e.address {
		return nil, e.reject(span, string(ModeAsset), ErrInvalidSender)
	}

	// Recipient calls must not be cut short by the caller going away.
	runCtx := context.WithoutCancel(ctx)
	receipt := e.newReceipt(ModeAsset, sender, batch)
	for i, entry := range batch.Entries {
		outcome := Outcome{Index: i, Recipient: entry.Recipient, Amount: entry.Amount}
		if entry.Recipient == (common.Address{}) {
			outcome.Reason = ReasonInvalidRecipient
			e.recordOutcome(receipt, outcome)
			continue
		}
		ok, err := e.assets.TransferFrom(runCtx, asset, sender, entry.Recipient, entry.Amount)
		switch {
		case err != nil && errors.Is(err, ledger.ErrUndecodable):
			outcome.Reason = ReasonDecodeFailed
			outcome.Detail = err.Error()
		case err != nil:
			outcome.Reason = ReasonCallFailed
			outcome.Detail = err.Error()
		case !ok:
			outcome.Reason = ReasonNonTrueReturn
		default:
			outcome.Success = true
		}
		e.recordOutcome(receipt, outcome)
	}

	if err := e.commit(receipt); err != nil {
		return receipt, fail(span, err)
	}
	e.finish(span, receipt, start)
	return receipt, nil
}

func (e *Engine) newReceipt(mode Mode, sender common.Address, batch *Batch) *Receipt {
	return &Receipt{
		ID:             e.newID(),
		Mode:           mode,
		Sender:         sender,
		Asset:          batch.Asset,
		DeclaredTotal:  new(uint256.Int).Set(batch.Total),
		DeliveredTotal: new(uint256.Int),
		Outcomes:       make([]Outcome, 0, len(batch.Entries)),
		Timestamp:      e.now().Unix(),
	}
}

func (e *Engine) recordOutcome(r *Receipt, o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Success {
		r.Successes++
		// Cannot overflow: every delivered amount is part of the validated total.
		r.DeliveredTotal.Add(r.DeliveredTotal, o.Amount)
		e.metrics.RecordTransfer(string(r.Mode), "success")
		e.emit(NewTransferSucceededEvent(r.Mode, r.Asset, o))
		return
	}
	r.Failures++
	e.metrics.RecordTransfer(string(r.Mode), string(o.Reason))
	e.emit(NewTransferFailedEvent(r.Mode, r.Asset, o))
}

// commit updates the durable statistics and, on success, emits the aggregate
// batch notification.
func (e *Engine) commit(r *Receipt) error {
	stats, err := e.state.ApplyMultisendBatch(r.Sender, r.Successes)
	if err != nil {
		e.logger.Error("multisend statistics update failed",
			"id", r.ID, "sender", r.Sender.Hex(), "err", err)
		return fmt.Errorf("multisend: record statistics: %w", err)
	}
	r.TotalBatches = stats.TotalBatches
	r.TotalServed = stats.TotalRecipients
	count, err := e.state.MultisendSenderCount(r.Sender)
	if err != nil {
		e.logger.Warn("multisend sender count unavailable",
			"id", r.ID, "sender", r.Sender.Hex(), "err", err)
	} else {
		r.SenderBatches = count
	}
	e.emit(NewBatchEvent(r))
	return nil
}

func (e *Engine) refund(r *Receipt) {
	if err := e.bank.Transfer(e.address, r.Sender, r.Refund); err != nil {
		r.RefundFailed = true
		e.metrics.RecordRefund("failed")
		e.logger.Warn("multisend refund failed",
			"id", r.ID, "sender", r.Sender.Hex(), "amount", r.Refund.Dec(), "err", err)
		e.emit(NewRefundFailedEvent(r.ID, r.Sender, r.Refund, err.Error()))
		return
	}
	e.metrics.RecordRefund("success")
}

func (e *Engine) finish(span trace.Span, r *Receipt, start time.Time) {
	e.metrics.RecordBatch(string(r.Mode), e.now().Sub(start))
	span.SetAttributes(
		attribute.String("multisend.id", r.ID),
		attribute.Int64("multisend.successes", int64(r.Successes)),
		attribute.Int64("multisend.failures", int64(r.Failures)),
	)
	span.SetStatus(codes.Ok, "batch complete")
	e.logger.Info("multisend batch complete",
		"id", r.ID,
		"mode", string(r.Mode),
		"sender", r.Sender.Hex(),
		"successes", r.Successes,
		"failures", r.Failures,
		"delivered", r.DeliveredTotal.Dec())
}

// ReceiveValue credits amount from sender to the engine vault. Value
// received this way is only recoverable through EmergencyDrain.
func (e *Engine) ReceiveValue(ctx context.Context, from common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, span := e.tracer.Start(ctx, "multisend.receive")
	defer span.End()
	if e.bank == nil {
		return fail(span, errNilBank)
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if from == (common.Address{}) || from == e.address {
		return e.reject(span, "receive", ErrInvalidSender)
	}
	balance, err := e.bank.Balance(from)
	if err != nil {
		return fail(span, err)
	}
	if balance.Lt(amount) {
		return e.reject(span, "receive", ErrInsufficientBalance)
	}
	if err := e.bank.Transfer(from, e.address, amount); err != nil {
		return fail(span, fmt.Errorf("multisend: receive value: %w", err))
	}
	return nil
}

// EmergencyDrain moves the entire native balance of the vault to the owner
// and returns the amount moved. Only the owner may call it.
func (e *Engine) EmergencyDrain(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, span := e.tracer.Start(ctx, "multisend.emergency_drain")
	defer span.End()
	if e.owner == nil {
		return nil, fail(span, errNilOwnership)
	}
	if e.bank == nil {
		return nil, fail(span, errNilBank)
	}
	if err := e.owner.RequireOwner(caller); err != nil {
		return nil, e.ownershipError(span, "drain", err)
	}
	balance, err := e.bank.Balance(e.address)
	if err != nil {
		return nil, fail(span, err)
	}
	if balance.IsZero() {
		return balance, nil
	}
	if err := e.bank.Transfer(e.address, caller, balance); err != nil {
		return nil, fail(span, fmt.Errorf("multisend: drain: %w", err))
	}
	e.emit(NewEmergencyDrainEvent(caller, balance))
	e.logger.Warn("multisend vault drained", "owner", caller.Hex(), "amount", balance.Dec())
	return balance, nil
}

// TransferOwnership hands the owner capability to next.
func (e *Engine) TransferOwnership(ctx context.Context, caller, next common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, span := e.tracer.Start(ctx, "multisend.transfer_ownership")
	defer span.End()
	if e.owner == nil {
		return fail(span, errNilOwnership)
	}
	previous, err := e.owner.TransferOwnership(caller, next)
	if err != nil {
		return e.ownershipError(span, "transfer_ownership", err)
	}
	e.emit(NewOwnershipTransferredEvent(previous, next))
	e.logger.Info("multisend ownership transferred", "from", previous.Hex(), "to", next.Hex())
	return nil
}

// RenounceOwnership leaves the engine without an owner. Drain, pause and
// ownership changes are impossible afterwards.
func (e *Engine) RenounceOwnership(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, span := e.tracer.Start(ctx, "multisend.renounce_ownership")
	defer span.End()
	if e.owner == nil {
		return fail(span, errNilOwnership)
	}
	previous, err := e.owner.RenounceOwnership(caller)
	if err != nil {
		return e.ownershipError(span, "renounce_ownership", err)
	}
	e.emit(NewOwnershipTransferredEvent(previous, common.Address{}))
	e.logger.Warn("multisend ownership renounced", "previous", previous.Hex())
	return nil
}

func (e *Engine) ownershipError(span trace.Span, op string, err error) error {
	if errors.Is(err, ErrUnauthorizedAccount) || errors.Is(err, ErrInvalidOwner) ||
		errors.Is(err, nativecommon.ErrNotInitialized) {
		return e.reject(span, op, err)
	}
	return fail(span, err)
}

// Pause blocks new batches until Resume. Only the owner may call it.
func (e *Engine) Pause(ctx context.Context, caller common.Address) error {
	return e.setPaused(ctx, caller, true)
}

// Resume lifts a pause. Only the owner may call it.
func (e *Engine) Resume(ctx context.Context, caller common.Address) error {
	return e.setPaused(ctx, caller, false)
}

func (e *Engine) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, span := e.tracer.Start(ctx, "multisend.set_paused",
		trace.WithAttributes(attribute.Bool("multisend.paused", paused)))
	defer span.End()
	if e.owner == nil {
		return fail(span, errNilOwnership)
	}
	if e.pauses == nil {
		return fail(span, errors.New("multisend engine: pause store not configured"))
	}
	if err := e.owner.RequireOwner(caller); err != nil {
		return e.ownershipError(span, "pause", err)
	}
	if err := e.pauses.SetPaused(ModuleName, paused); err != nil {
		return fail(span, err)
	}
	e.metrics.SetPause(paused)
	e.emit(NewPauseEvent(paused, caller))
	e.logger.Info("multisend pause toggled", "paused", paused, "by", caller.Hex())
	return nil
}

// Paused reports whether batches are currently blocked.
func (e *Engine) Paused() bool {
	return nativecommon.Guard(e.pauses, ModuleName) != nil
}

// Owner returns the current owner; the zero address after renouncing.
func (e *Engine) Owner() (common.Address, error) {
	if e.owner == nil {
		return common.Address{}, errNilOwnership
	}
	return e.owner.CurrentOwner()
}

// Stats returns a snapshot of the aggregate statistics.
func (e *Engine) Stats() (*Stats, error) {
	if e.state == nil {
		return nil, errNilState
	}
	stats, err := e.state.MultisendStats()
	if err != nil {
		return nil, err
	}
	return &Stats{TotalBatches: stats.TotalBatches, TotalRecipientsServed: stats.TotalRecipients}, nil
}

// TotalBatches returns the number of accepted batches.
func (e *Engine) TotalBatches() (*uint256.Int, error) {
	stats, err := e.Stats()
	if err != nil {
		return nil, err
	}
	return stats.TotalBatches, nil
}

// TotalRecipientsServed returns the number of successful recipient transfers
// across all batches.
func (e *Engine) TotalRecipientsServed() (*uint256.Int, error) {
	stats, err := e.Stats()
	if err != nil {
		return nil, err
	}
	return stats.TotalRecipientsServed, nil
}

// BatchCountFor returns how many accepted batches sender has submitted.
func (e *Engine) BatchCountFor(sender common.Address) (*uint256.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.MultisendSenderCount(sender)
}

// VaultBalance returns the native value currently held by the engine.
func (e *Engine) VaultBalance() (*uint256.Int, error) {
	if e.bank == nil {
		return nil, errNilBank
	}
	return e.bank.Balance(e.address)
}

// EstimateGas returns the advisory cost for a batch of n recipients in mode.
func (e *Engine) EstimateGas(mode Mode, n uint64) *uint256.Int {
	if mode == ModeAsset {
		return EstimateAssetGas(n)
	}
	return EstimateNativeGas(n)
}
