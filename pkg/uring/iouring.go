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

package uring

import "golang.org/x/sys/unix"

var _available = false

func init() {
	_, _, errno := unix.RawSyscall(unix.SYS_IO_URING_REGISTER, 0, 1, 0)
	_available = errno != unix.ENOSYS
}

// IsAvailable reports whether the running kernel has the io_uring_register
// syscall wired up at all. It does not guarantee any particular opcode or
// feature is supported; it's a coarse "don't even bother" probe.
func IsAvailable() bool {
	return _available
}
