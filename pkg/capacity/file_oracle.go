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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	fileRetryInterval = 50 * time.Millisecond
	fileMaxRetries    = 3
)

// FileOracle reads the capacity from a device description file published by
// the runtime. TOML and JSON files are supported. A missing file is retried
// a few times since the runtime may not have published it yet.
type FileOracle struct {
	path       string
	newBackoff func() backoff.BackOff
}

// NewFileOracle creates a FileOracle reading path.
func NewFileOracle(path string) *FileOracle {
	return &FileOracle{
		path: path,
		newBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(fileRetryInterval), fileMaxRetries)
		},
	}
}

func (o *FileOracle) read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := backoff.RetryNotify(func() error {
		var err error
		data, err = os.ReadFile(o.path)
		if err != nil && !os.IsNotExist(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(o.newBackoff(), ctx), func(err error, d time.Duration) {
		log.Warn("device capacity file is not ready, retry later",
			zap.String("file", o.path), zap.Duration("backoff", d), zap.Error(err))
	})
	return data, err
}

// QueryCapacity implements Oracle.
func (o *FileOracle) QueryCapacity(ctx context.Context) (Capacity, error) {
	if err := ctx.Err(); err != nil {
		return Capacity{}, errors.Trace(err)
	}
	data, err := o.read(ctx)
	if err != nil {
		return Capacity{}, errors.Annotatef(err, "read device capacity file %s", o.path)
	}
	var c Capacity
	if strings.EqualFold(filepath.Ext(o.path), ".json") {
		err = json.Unmarshal(data, &c)
	} else {
		var meta toml.MetaData
		meta, err = toml.Decode(string(data), &c)
		if err == nil && len(meta.Undecoded()) > 0 {
			log.Warn("device capacity file contains unknown items",
				zap.String("file", o.path), zap.Any("items", meta.Undecoded()))
		}
	}
	if err != nil {
		return Capacity{}, errors.Annotatef(err, "decode device capacity file %s", o.path)
	}
	log.Info("load device capacity",
		zap.String("file", o.path),
		zap.Int64("maxTaskPerStream", c.MaxTaskPerStream),
		zap.Int64("maxStreamNum", c.MaxStreamNum),
		zap.Int64("maxTaskPerHugeStream", c.MaxTaskPerHugeStream))
	return c, nil
}
