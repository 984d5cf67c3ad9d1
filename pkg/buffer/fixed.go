//go:build linux

/*
	Copyright 2023 Loophole Labs

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

package buffer

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

var ErrTooLarge = errors.New("invalid data size")

// Fixed is a type of Buffer that has a constant, fixed size and is not
// dynamically resizable. Its capacity is always a multiple of the page
// size, which is what REGISTER_BUFFERS expects an iovec's base/len to line
// up with for zero-copy fixed I/O.
type Fixed []byte

func NewFixed(size int64) (*Fixed, error) {
	size = int64(math.Ceil(float64(size)/float64(pageSize)) * float64(pageSize))

	if size < 0 {
		return nil, fmt.Errorf("size cannot be negative")
	}

	region, err := allocate(size)
	if err != nil {
		return nil, fmt.Errorf("error while allocating buffer: %w", err)
	}

	buf := Fixed(region[:0])
	return &buf, nil
}

func (buf *Fixed) Write(b []byte) (int, error) {
	if cap(*buf)-len(*buf) < len(b) {
		return 0, ErrTooLarge
	}
	*buf = (*buf)[:len(*buf)+copy((*buf)[len(*buf):cap(*buf)], b)]
	return len(b), nil
}

func (buf *Fixed) Reset() {
	*buf = (*buf)[:0]
}

func (buf *Fixed) Bytes() []byte {
	return *buf
}

func (buf *Fixed) Len() int {
	return len(*buf)
}

func (buf *Fixed) Cap() int {
	return cap(*buf)
}

// Iovec returns the unix.Iovec describing this buffer's full capacity, for
// use with Ring.RegisterBuffers.
func (buf *Fixed) Iovec() unix.Iovec {
	full := (*buf)[:cap(*buf)]
	iov := unix.Iovec{}
	iov.SetLen(len(full))
	if len(full) > 0 {
		iov.Base = &full[0]
	}
	return iov
}

func (buf *Fixed) Close() error {
	if cap(*buf) == 0 {
		return nil
	}
	return unix.Munmap((*buf)[:cap(*buf)])
}
