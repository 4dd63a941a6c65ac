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

// errors
var (
	// invalid input errors
	ErrInvalidInput = errors.Normalize(
		"invalid input: %s",
		errors.RFCCodeText("STREAM:ErrInvalidInput"),
	)
	ErrInvalidStreamLabel = errors.Normalize(
		"node %s has an invalid stream label %q",
		errors.RFCCodeText("STREAM:ErrInvalidStreamLabel"),
	)
	ErrActiveLabelNotFound = errors.Normalize(
		"active label %q of node %s does not match any stream",
		errors.RFCCodeText("STREAM:ErrActiveLabelNotFound"),
	)
	ErrGraphCycle = errors.Normalize(
		"graph %s contains a cycle: %s",
		errors.RFCCodeText("STREAM:ErrGraphCycle"),
	)
	ErrUnknownNode = errors.Normalize(
		"graph %s has no node %s",
		errors.RFCCodeText("STREAM:ErrUnknownNode"),
	)
	ErrUnknownSubgraph = errors.Normalize(
		"node %s references unknown subgraph %s",
		errors.RFCCodeText("STREAM:ErrUnknownSubgraph"),
	)
	ErrDecodeGraph = errors.Normalize(
		"decode graph file %s failed",
		errors.RFCCodeText("STREAM:ErrDecodeGraph"),
	)
	ErrInvalidConfig = errors.Normalize(
		"invalid allocator config: %s",
		errors.RFCCodeText("STREAM:ErrInvalidConfig"),
	)

	// resource exhausted errors
	ErrStreamNumExceeded = errors.Normalize(
		"stream number %d exceeds the hardware limit %d",
		errors.RFCCodeText("STREAM:ErrStreamNumExceeded"),
	)
	ErrStreamTaskExceeded = errors.Normalize(
		"node %s needs %d tasks which exceeds the per-stream limit %d",
		errors.RFCCodeText("STREAM:ErrStreamTaskExceeded"),
	)
	ErrEventNumExceeded = errors.Normalize(
		"event number %d exceeds the limit %d",
		errors.RFCCodeText("STREAM:ErrEventNumExceeded"),
	)
	ErrNotifyNumExceeded = errors.Normalize(
		"notify number %d exceeds the limit %d",
		errors.RFCCodeText("STREAM:ErrNotifyNumExceeded"),
	)

	// capacity oracle errors
	ErrCapacityQueryFailed = errors.Normalize(
		"query hardware capacity failed",
		errors.RFCCodeText("STREAM:ErrCapacityQueryFailed"),
	)
	ErrInvalidCapacity = errors.Normalize(
		"hardware reported an invalid capacity: %s",
		errors.RFCCodeText("STREAM:ErrInvalidCapacity"),
	)

	// graph inconsistent errors
	ErrGraphInconsistent = errors.Normalize(
		"graph is inconsistent: %s",
		errors.RFCCodeText("STREAM:ErrGraphInconsistent"),
	)
	ErrLoopSwitchNotFound = errors.Normalize(
		"can not find the stream switch before loop active node %s",
		errors.RFCCodeText("STREAM:ErrLoopSwitchNotFound"),
	)
)
