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

package capacity

import (
	"context"
	"fmt"

	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
)

// Capacity describes the stream resources of the target device.
type Capacity struct {
	// MaxTaskPerStream is the number of tasks a physical stream can hold.
	MaxTaskPerStream int64 `toml:"max-task-per-stream" json:"max-task-per-stream"`
	// MaxStreamNum is the number of physical streams the device provides.
	MaxStreamNum int64 `toml:"max-stream-num" json:"max-stream-num"`
	// MaxTaskPerHugeStream is the number of tasks a single stream can hold
	// when the model runs on one stream only. Zero disables single stream
	// mode.
	MaxTaskPerHugeStream int64 `toml:"max-task-per-huge-stream" json:"max-task-per-huge-stream"`
}

// Validate checks that the device reported usable values.
func (c Capacity) Validate() error {
	if c.MaxTaskPerStream <= 0 {
		return cerror.ErrInvalidCapacity.GenWithStackByArgs(
			fmt.Sprintf("max-task-per-stream %d", c.MaxTaskPerStream))
	}
	if c.MaxStreamNum <= 0 {
		return cerror.ErrInvalidCapacity.GenWithStackByArgs(
			fmt.Sprintf("max-stream-num %d", c.MaxStreamNum))
	}
	if c.MaxTaskPerHugeStream < 0 {
		return cerror.ErrInvalidCapacity.GenWithStackByArgs(
			fmt.Sprintf("max-task-per-huge-stream %d", c.MaxTaskPerHugeStream))
	}
	return nil
}

// Oracle answers the stream capacity of the device. QueryCapacity is a
// synchronous call; an error means the allocation can not proceed.
type Oracle interface {
	QueryCapacity(ctx context.Context) (Capacity, error)
}

// Query asks the oracle and validates the answer. Any failure is reported
// as ErrCapacityQueryFailed.
func Query(ctx context.Context, oracle Oracle) (Capacity, error) {
	failpoint.Inject("CapacityQueryFailed", func() {
		failpoint.Return(Capacity{}, cerror.ErrCapacityQueryFailed.GenWithStackByArgs())
	})
	if oracle == nil {
		return Capacity{}, cerror.ErrCapacityQueryFailed.GenWithStack("no capacity oracle")
	}
	c, err := oracle.QueryCapacity(ctx)
	if err != nil {
		return Capacity{}, cerror.WrapError(cerror.ErrCapacityQueryFailed, err)
	}
	if err := c.Validate(); err != nil {
		return Capacity{}, cerror.WrapError(cerror.ErrCapacityQueryFailed, err)
	}
	return c, nil
}

// StaticOracle always answers the same capacity.
type StaticOracle struct {
	capacity Capacity
}

// NewStaticOracle creates a StaticOracle.
func NewStaticOracle(c Capacity) *StaticOracle {
	return &StaticOracle{capacity: c}
}

// QueryCapacity implements Oracle.
func (o *StaticOracle) QueryCapacity(ctx context.Context) (Capacity, error) {
	if err := ctx.Err(); err != nil {
		return Capacity{}, errors.Trace(err)
	}
	return o.capacity, nil
}
