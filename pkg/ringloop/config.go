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

package ringloop

import "github.com/ringlab/uring/internal/logging"

// Config holds the construction-time knobs for an EventLoop.
type Config struct {
	// RingEntries is the SQ/CQ ring size, rounded up to a power of two by
	// the kernel. Must be large enough to hold every channel's outstanding
	// poll plus whatever burst of reads/writes/accepts/connects the loop
	// issues in a single busy-phase pass.
	RingEntries uint32

	// SetupFlags are OR'd into io_uring_setup's params.flags (e.g.
	// uring.SetupSubmitAll). Zero is a perfectly reasonable default.
	SetupFlags uint32

	// TaskQueueCapacity bounds the lock-free MPSC task queue. Producers
	// that find it full should wake the loop and retry rather than block.
	TaskQueueCapacity int

	// Logger receives the loop's structured diagnostics. Defaults to
	// logging.Default() when nil.
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults for a single-process echo-style
// workload: a modest ring, no special setup flags, and a task queue large
// enough to absorb bursts of cross-thread writes.
func DefaultConfig() *Config {
	return &Config{
		RingEntries:       256,
		TaskQueueCapacity: 4096,
	}
}

func (c *Config) logger() *logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Default()
}
