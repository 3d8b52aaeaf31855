// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package persistence implements the one piece of durable state an active
// validator needs across a restart: the hash and sequence number of the
// last unit it produced, used to seed activevalidator.State so a restarted
// validator continues its own sequence instead of starting again at zero.
// The consensus core itself never touches disk; this package is for the
// embedding binary (see cmd/sim) to call.
package persistence

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/mcdee/casper-node/capability"
)

// version is the on-disk format tag, written first so a future format
// change can be detected instead of silently misparsed.
const version uint16 = 1

const recordLen = 2 + 8 + 32 // version + seq number + hash

// Save writes h/seq to path, overwriting any existing file. It uses
// os.WriteFile the same way the teacher's runtime configuration writer
// does: the write is neither atomic nor fsynced, so a crash can lose the
// last write and leave an older hash/seq on disk.
func Save(path string, h capability.Hash, seq uint64) error {
	buf := make([]byte, recordLen)
	binary.BigEndian.PutUint16(buf[0:2], version)
	binary.BigEndian.PutUint64(buf[2:10], seq)
	copy(buf[10:], h[:])
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("persistence: write %s: %w", path, err)
	}
	return nil
}

// Load reads back a hash/seq pair saved by Save. ok is false, with a nil
// error, if path does not exist: a validator joining for the first time
// has nothing to load.
func Load(path string) (h capability.Hash, seq uint64, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return capability.Hash{}, 0, false, nil
		}
		return capability.Hash{}, 0, false, fmt.Errorf("persistence: read %s: %w", path, err)
	}
	if len(data) != recordLen {
		return capability.Hash{}, 0, false, fmt.Errorf("persistence: %s: unexpected length %d", path, len(data))
	}
	if v := binary.BigEndian.Uint16(data[0:2]); v != version {
		return capability.Hash{}, 0, false, fmt.Errorf("persistence: %s: unsupported version %d", path, v)
	}
	seq = binary.BigEndian.Uint64(data[2:10])
	copy(h[:], data[10:])
	return h, seq, true, nil
}
