package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned by Guard while a module is paused.
var ErrModulePaused = errors.New("module paused")

// PauseView reports module pause flags.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseStore is a PauseView that can also toggle the flag.
type PauseStore interface {
	PauseView
	SetPaused(module string, paused bool) error
}

// Guard fails with ErrModulePaused when module is paused. A nil view or an
// empty module name never blocks.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
