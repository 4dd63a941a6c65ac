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

package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dfcompiler/streamalloc/pkg/capacity"
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/logutil"
	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// SyncMode selects the synchronization primitive inserted between streams.
type SyncMode string

// Sync modes.
const (
	SyncModeEvent  SyncMode = "event"
	SyncModeNotify SyncMode = "notify"
)

var defaultAllocatorConfig = &AllocatorConfig{
	SyncMode:           SyncModeEvent,
	EnableSingleStream: false,
	MaxEventNum:        65536,
	MaxNotifyNum:       8192,
	Cost: &CostConfig{
		NormalTaskNum:     3,
		CollectiveTaskNum: 245,
		MultiTaskFactor:   2,
	},
	Capacity: &CapacityConfig{
		MaxTaskPerStream:     1048,
		MaxStreamNum:         1024,
		MaxTaskPerHugeStream: 8096,
	},
	Log: &logutil.Config{
		Level: "info",
	},
}

// AllocatorConfig is the configuration of one stream allocation run.
type AllocatorConfig struct {
	// SyncMode is either "event" or "notify".
	SyncMode SyncMode `toml:"sync-mode" json:"sync-mode"`
	// EnableSingleStream merges every stream onto one when the whole model
	// fits on a single huge stream.
	EnableSingleStream bool  `toml:"enable-single-stream" json:"enable-single-stream"`
	MaxEventNum        int64 `toml:"max-event-num" json:"max-event-num"`
	MaxNotifyNum       int64 `toml:"max-notify-num" json:"max-notify-num"`

	Cost     *CostConfig     `toml:"cost" json:"cost"`
	Capacity *CapacityConfig `toml:"capacity" json:"capacity"`
	Log      *logutil.Config `toml:"log" json:"log"`
}

// CostConfig holds the task numbers used when a node does not declare its
// own.
type CostConfig struct {
	NormalTaskNum     int64 `toml:"normal-task-num" json:"normal-task-num"`
	CollectiveTaskNum int64 `toml:"collective-task-num" json:"collective-task-num"`
	// MultiTaskFactor multiplies the task number of ordinary nodes of a
	// multi-task graph.
	MultiTaskFactor int64 `toml:"multi-task-factor" json:"multi-task-factor"`
}

// CapacityConfig describes where the device capacity comes from. When File
// is set the capacity is read from the file, otherwise the static values
// are used.
type CapacityConfig struct {
	File                 string `toml:"file" json:"file"`
	MaxTaskPerStream     int64  `toml:"max-task-per-stream" json:"max-task-per-stream"`
	MaxStreamNum         int64  `toml:"max-stream-num" json:"max-stream-num"`
	MaxTaskPerHugeStream int64  `toml:"max-task-per-huge-stream" json:"max-task-per-huge-stream"`
}

// Oracle builds the capacity oracle described by c.
func (c *CapacityConfig) Oracle() capacity.Oracle {
	if c.File != "" {
		return capacity.NewFileOracle(c.File)
	}
	return capacity.NewStaticOracle(capacity.Capacity{
		MaxTaskPerStream:     c.MaxTaskPerStream,
		MaxStreamNum:         c.MaxStreamNum,
		MaxTaskPerHugeStream: c.MaxTaskPerHugeStream,
	})
}

// GetDefaultAllocatorConfig returns the default allocator config.
func GetDefaultAllocatorConfig() *AllocatorConfig {
	return defaultAllocatorConfig.Clone()
}

// Marshal returns the json marshal format of an AllocatorConfig.
func (c *AllocatorConfig) Marshal() (string, error) {
	cfg, err := json.Marshal(c)
	if err != nil {
		return "", errors.Annotatef(err, "marshal allocator config: %v", c)
	}
	return string(cfg), nil
}

// Unmarshal unmarshals into *AllocatorConfig from json marshal byte slice.
func (c *AllocatorConfig) Unmarshal(data []byte) error {
	return errors.Trace(json.Unmarshal(data, c))
}

// Clone clones an AllocatorConfig.
func (c *AllocatorConfig) Clone() *AllocatorConfig {
	str, err := c.Marshal()
	if err != nil {
		log.Panic("failed to marshal allocator config", zap.Error(err))
	}
	clone := new(AllocatorConfig)
	if err := clone.Unmarshal([]byte(str)); err != nil {
		log.Panic("failed to unmarshal allocator config", zap.Error(err))
	}
	return clone
}

// String implements fmt.Stringer, printing the config in TOML.
func (c *AllocatorConfig) String() string {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return buf.String()
}

// ValidateAndAdjust fills the missing sections with defaults and verifies
// that each parameter is valid.
func (c *AllocatorConfig) ValidateAndAdjust() error {
	if c.SyncMode == "" {
		c.SyncMode = defaultAllocatorConfig.SyncMode
	}
	if c.SyncMode != SyncModeEvent && c.SyncMode != SyncModeNotify {
		return cerror.ErrInvalidConfig.GenWithStackByArgs(
			fmt.Sprintf("sync-mode must be %q or %q, got %q", SyncModeEvent, SyncModeNotify, c.SyncMode))
	}
	if c.MaxEventNum <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("max-event-num must be larger than 0")
	}
	if c.MaxNotifyNum <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("max-notify-num must be larger than 0")
	}

	if c.Cost == nil {
		c.Cost = GetDefaultAllocatorConfig().Cost
	}
	if err := c.Cost.ValidateAndAdjust(); err != nil {
		return err
	}
	if c.Capacity == nil {
		c.Capacity = GetDefaultAllocatorConfig().Capacity
	}
	if err := c.Capacity.ValidateAndAdjust(); err != nil {
		return err
	}
	if c.Log == nil {
		c.Log = GetDefaultAllocatorConfig().Log
	}
	c.Log.Adjust()
	return nil
}

// ValidateAndAdjust verifies that each parameter is valid.
func (c *CostConfig) ValidateAndAdjust() error {
	if c.NormalTaskNum <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("normal-task-num must be larger than 0")
	}
	if c.CollectiveTaskNum <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("collective-task-num must be larger than 0")
	}
	if c.MultiTaskFactor == 0 {
		c.MultiTaskFactor = 1
	}
	if c.MultiTaskFactor < 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("multi-task-factor must be larger than 0")
	}
	return nil
}

// ValidateAndAdjust verifies that each parameter is valid. The static values
// are not checked when the capacity comes from a file.
func (c *CapacityConfig) ValidateAndAdjust() error {
	if c.File != "" {
		return nil
	}
	if c.MaxTaskPerStream <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("capacity.max-task-per-stream must be larger than 0")
	}
	if c.MaxStreamNum <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("capacity.max-stream-num must be larger than 0")
	}
	if c.MaxTaskPerHugeStream < 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("capacity.max-task-per-huge-stream must not be negative")
	}
	return nil
}
