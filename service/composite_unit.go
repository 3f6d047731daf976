/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// CompositeUnit starts and stops a group of units together.
type CompositeUnit struct {
	Units []Unit
}

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{units}
}

// Start starts every unit in its own goroutine and blocks until all Start calls return.
// If any unit fails, all units are stopped non-gracefully and a CompositeUnitError
// (start errors first, then stop errors) is sent to fatalErr.
func (cu *CompositeUnit) Start(fatalErr chan<- error) {
	unitErrs := make([]chan error, len(cu.Units))
	for i := range unitErrs {
		unitErrs[i] = make(chan error, 1)
	}

	done := make(chan bool, len(cu.Units))
	pending := atomic.NewInt32(int32(len(cu.Units))) //nolint:gosec // unit count is small
	for i := range cu.Units {
		go func(i int) {
			cu.Units[i].Start(unitErrs[i])
			if len(unitErrs[i]) != 0 {
				done <- false
				return
			}
			if pending.Dec() == 0 {
				done <- true
			}
		}(i)
	}
	if len(cu.Units) == 0 || <-done {
		return
	}

	var errs []error
	stopErr := cu.Stop(false)
	for _, ch := range unitErrs {
		select {
		case err := <-ch:
			errs = append(errs, err)
		default:
		}
	}
	if stopErr != nil {
		errs = append(errs, stopErr.(*CompositeUnitError).UnitErrors...)
	}
	fatalErr <- &CompositeUnitError{errs}
}

// Stop stops all units concurrently and collects their errors into a single CompositeUnitError.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	errs := make([]error, len(cu.Units))
	var wg sync.WaitGroup
	for i := range cu.Units {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cu.Units[i].Stop(gracefully)
		}(i)
	}
	wg.Wait()

	var unitErrs []error
	for _, err := range errs {
		if err != nil {
			unitErrs = append(unitErrs, err)
		}
	}
	if len(unitErrs) != 0 {
		return &CompositeUnitError{unitErrs}
	}
	return nil
}

// MustRegisterMetrics registers metrics of all units that own them.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics of all units that own them.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError aggregates errors of several units.
type CompositeUnitError struct {
	UnitErrors []error
}

func (e *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(e.UnitErrors))
	for _, err := range e.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap allows errors.Is and errors.As to look into unit errors.
func (e *CompositeUnitError) Unwrap() []error {
	return e.UnitErrors
}
