// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"github.com/pingcap/errors"
)

// Category is the failure class an error belongs to.
type Category string

// Failure categories.
const (
	CategoryInvalidInput        Category = "InvalidInput"
	CategoryResourceExhausted   Category = "ResourceExhausted"
	CategoryCapacityQueryFailed Category = "CapacityQueryFailed"
	CategoryGraphInconsistent   Category = "GraphInconsistent"
	CategoryUnknown             Category = "Unknown"
)

var categories = map[Category][]*errors.Error{
	CategoryInvalidInput: {
		ErrInvalidInput, ErrInvalidStreamLabel, ErrActiveLabelNotFound,
		ErrGraphCycle, ErrUnknownNode, ErrUnknownSubgraph, ErrDecodeGraph,
		ErrInvalidConfig,
	},
	CategoryResourceExhausted: {
		ErrStreamNumExceeded, ErrStreamTaskExceeded,
		ErrEventNumExceeded, ErrNotifyNumExceeded,
	},
	CategoryCapacityQueryFailed: {
		ErrCapacityQueryFailed, ErrInvalidCapacity,
	},
	CategoryGraphInconsistent: {
		ErrGraphInconsistent, ErrLoopSwitchNotFound,
	},
}

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error. The args fill the message template of rfcError.
// If given `err` is nil, returns a nil error, which a the different behavior
// against `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

// Is returns true if any error in the chain of err carries the RFC code of
// rfcError. Unlike rfcError.Equal it also sees through WrapError.
func Is(err error, rfcError *errors.Error) bool {
	for err != nil {
		if terr, ok := err.(*errors.Error); ok && terr.RFCCode() == rfcError.RFCCode() {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return false
		}
	}
	return false
}

// RFCCode returns a RFCCode for an error. The error chain is walked until a
// normalized error is found.
func RFCCode(err error) (errors.RFCErrorCode, bool) {
	for err != nil {
		if terr, ok := err.(*errors.Error); ok {
			return terr.RFCCode(), true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return "", false
		}
	}
	return "", false
}

// CategoryOf returns the failure class of err. Errors that are not defined
// in this package are reported as CategoryUnknown.
func CategoryOf(err error) Category {
	code, ok := RFCCode(err)
	if !ok {
		return CategoryUnknown
	}
	for category, errs := range categories {
		for _, e := range errs {
			if e.RFCCode() == code {
				return category
			}
		}
	}
	return CategoryUnknown
}

// IsResourceExhausted returns true if err is caused by a hardware budget
// that was exceeded.
func IsResourceExhausted(err error) bool {
	return CategoryOf(err) == CategoryResourceExhausted
}
