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

import (
	"errors"
	"fmt"
)

// ErrSubmitQueueFull is returned by an addX call when the submission queue
// is already full and a forced submit() still drained nothing.
var ErrSubmitQueueFull = errors.New("ringloop: submission queue full")

// SubmitFailedError wraps the errno io_uring_enter returned when submitting
// SQEs failed outright.
type SubmitFailedError struct {
	Errno error
}

func (e *SubmitFailedError) Error() string {
	return fmt.Sprintf("ringloop: io_uring_enter failed: %v", e.Errno)
}

func (e *SubmitFailedError) Unwrap() error { return e.Errno }

// PartialSubmitError records that the kernel consumed fewer SQEs than were
// offered; the remainder must be resubmitted on the next opportunity.
type PartialSubmitError struct {
	Offered, Consumed uint
}

func (e *PartialSubmitError) Error() string {
	return fmt.Sprintf("ringloop: partial submit, offered %d consumed %d", e.Offered, e.Consumed)
}

// CompletionError wraps a negative CQE result for delivery to a channel
// callback. The loop itself never returns this to a caller; it only
// reacts to a handful of distinguished errnos and otherwise hands the raw
// result to the channel.
type CompletionError struct {
	Op  uint16
	FD  int
	Res int32
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("ringloop: completion error op=%d fd=%d res=%d", e.Op, e.FD, e.Res)
}
