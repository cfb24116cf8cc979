/*
Copyright 2026 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package block implements the packed binary blocks the storage keeps
// in its key/value store: positional postings, document lists, access
// control lists, inverse terms, forward index, ranking elements and
// document metadata, together with the anchored family cursor used to
// reach them.
//
// A block is (anchor, payload). The anchor is the largest id encoded
// in the block and is stored in the last key component, so that the
// block possibly containing id X is found with one upper-bound seek.
package block

import (
	"errors"
	"fmt"
)

// ErrCorrupt is wrapped by all block payload decoding failures.
var ErrCorrupt = errors.New("block: corrupt block")

// Canonical block size policy.
const (
	// PosinfoMaxPayload is the payload size of a posinfo block above
	// which the writer splits.
	PosinfoMaxPayload = 1024
	// ForwardMaxPayload is the payload size of a forward index block
	// above which the writer splits.
	ForwardMaxPayload = 1024
	// RangeMaxPayload is the payload size of a doclist or ACL block
	// above which the writer splits.
	RangeMaxPayload = 1024
	// DocnoBlockElements is the fixed record capacity of a docno
	// block.
	DocnoBlockElements = 128
	// MetaBlockSize is the number of records in a metadata block.
	MetaBlockSize = 256
)

// Block is a raw data block: an anchor id and the payload bytes.
type Block struct {
	Anchor uint32
	Data   []byte
}

// Init resets the block to the given anchor and payload.
func (b *Block) Init(anchor uint32, data []byte) {
	b.Anchor = anchor
	b.Data = data
}

// Append appends raw bytes to the payload.
func (b *Block) Append(p []byte) {
	b.Data = append(b.Data, p...)
}

// Size returns the payload size in bytes.
func (b *Block) Size() int { return len(b.Data) }

// Empty reports whether the block carries no payload.
func (b *Block) Empty() bool { return len(b.Data) == 0 }

// Clear drops the payload and anchor.
func (b *Block) Clear() {
	b.Anchor = 0
	b.Data = b.Data[:0]
}

func corruptf(format string, arg ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, arg...))
}
