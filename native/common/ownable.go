package common

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnauthorizedAccount is returned when a non-owner calls an owner-only
	// operation.
	ErrUnauthorizedAccount = errors.New("ownable: unauthorized account")
	// ErrInvalidOwner is returned when the zero address is proposed as owner.
	ErrInvalidOwner = errors.New("ownable: invalid owner")
	// ErrAlreadyInitialized is returned when ownership is initialised twice.
	ErrAlreadyInitialized = errors.New("ownable: already initialized")
	// ErrNotInitialized is returned before an initial owner has been set.
	ErrNotInitialized = errors.New("ownable: not initialized")
)

// OwnerStore persists the owner record.
type OwnerStore interface {
	Owner() (ethcommon.Address, bool, error)
	SetOwner(ethcommon.Address) error
}

// Ownable is the single-owner capability guarding administrative operations.
type Ownable struct {
	store OwnerStore
}

// NewOwnable wraps store.
func NewOwnable(store OwnerStore) *Ownable {
	return &Ownable{store: store}
}

// Initialize records the first owner. It can run only once.
func (o *Ownable) Initialize(initial ethcommon.Address) error {
	if o == nil || o.store == nil {
		return ErrNotInitialized
	}
	if initial == (ethcommon.Address{}) {
		return ErrInvalidOwner
	}
	_, ok, err := o.store.Owner()
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	return o.store.SetOwner(initial)
}

// Initialized reports whether an owner record exists.
func (o *Ownable) Initialized() (bool, error) {
	if o == nil || o.store == nil {
		return false, nil
	}
	_, ok, err := o.store.Owner()
	return ok, err
}

// CurrentOwner returns the owner. A renounced owner is the zero address.
func (o *Ownable) CurrentOwner() (ethcommon.Address, error) {
	if o == nil || o.store == nil {
		return ethcommon.Address{}, ErrNotInitialized
	}
	owner, ok, err := o.store.Owner()
	if err != nil {
		return ethcommon.Address{}, err
	}
	if !ok {
		return ethcommon.Address{}, ErrNotInitialized
	}
	return owner, nil
}

// RequireOwner fails unless caller is the current owner.
func (o *Ownable) RequireOwner(caller ethcommon.Address) error {
	owner, err := o.CurrentOwner()
	if err != nil {
		return err
	}
	if owner == (ethcommon.Address{}) || owner != caller {
		return fmt.Errorf("%w: %s", ErrUnauthorizedAccount, caller.Hex())
	}
	return nil
}

// TransferOwnership hands ownership to next and returns the previous owner.
func (o *Ownable) TransferOwnership(caller, next ethcommon.Address) (ethcommon.Address, error) {
	if err := o.RequireOwner(caller); err != nil {
		return ethcommon.Address{}, err
	}
	if next == (ethcommon.Address{}) {
		return ethcommon.Address{}, ErrInvalidOwner
	}
	if err := o.store.SetOwner(next); err != nil {
		return ethcommon.Address{}, err
	}
	return caller, nil
}

// RenounceOwnership leaves the capability without an owner. Every owner-only
// operation fails afterwards.
func (o *Ownable) RenounceOwnership(caller ethcommon.Address) (ethcommon.Address, error) {
	if err := o.RequireOwner(caller); err != nil {
		return ethcommon.Address{}, err
	}
	if err := o.store.SetOwner(ethcommon.Address{}); err != nil {
		return ethcommon.Address{}, err
	}
	return caller, nil
}
