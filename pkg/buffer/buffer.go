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

// Package buffer provides growable and fixed-size byte buffers backed by
// anonymous mmap regions rather than the Go heap, so their addresses can be
// handed to the kernel directly (registered fixed buffers, READ/WRITE SQE
// addresses) without the GC ever relocating the backing array.
package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// Buffer is a resizable buffer whose backing array lives outside the Go
// heap. Unlike a plain []byte, growing it unmaps the old region instead of
// leaving it for the GC.
type Buffer []byte

func New(size int64) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("size cannot be negative")
	}

	region, err := allocate(size)
	if err != nil {
		return nil, fmt.Errorf("error while allocating buffer: %w", err)
	}

	buf := Buffer(region[:0])
	return &buf, nil
}

func (buf *Buffer) Write(b []byte) (int, error) {
	if cap(*buf)-len(*buf) < len(b) {
		newSize := int64(cap(*buf) + len(b))
		region, err := allocate(newSize)
		if err != nil {
			return 0, fmt.Errorf("error while allocating resized buffer: %w", err)
		}

		n := copy(region, *buf)

		if cap(*buf) > 0 {
			if err := unix.Munmap((*buf)[:cap(*buf)]); err != nil {
				return 0, fmt.Errorf("error while unmapping existing buffer: %w", err)
			}
		}

		*buf = Buffer(region[:n])
	}

	*buf = append(*buf, b...)
	return len(b), nil
}

func (buf *Buffer) Reset() {
	*buf = (*buf)[:0]
}

func (buf *Buffer) Bytes() []byte {
	return *buf
}

func (buf *Buffer) Len() int {
	return len(*buf)
}

func (buf *Buffer) Cap() int {
	return cap(*buf)
}

func (buf *Buffer) Close() error {
	if cap(*buf) == 0 {
		return nil
	}
	return unix.Munmap((*buf)[:cap(*buf)])
}

// allocate mmaps an anonymous, zero-filled region of size bytes. Plain
// MAP_ANONYMOUS is enough here: the teacher's original went through a
// memfd + MAP_FIXED remap dance to get a named mapping, but nothing in this
// package ever needs to reopen the region by fd.
func allocate(size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
}
