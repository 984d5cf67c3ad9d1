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

package ringloop

import (
	"testing"

	"github.com/ringlab/uring/internal/logging"
	"github.com/ringlab/uring/pkg/uring"
	"github.com/stretchr/testify/require"
)

// newTestRing opens a small real ring for use by tests that need genuine
// kernel completions rather than pure-function behavior. Tests using this
// require a kernel with io_uring enabled.
func newTestRing(t *testing.T) *uring.Ring {
	t.Helper()
	ring, err := uring.NewRing()
	require.NoError(t, err)
	require.NoError(t, ring.QueueInit(8, 0))
	t.Cleanup(func() { _ = ring.Close() })
	return ring
}

func TestCompletionQueueProcessDrainsAnExpiredTimeout(t *testing.T) {
	ring := newTestRing(t)
	sq := newSubmissionQueue(ring, logging.Default())
	cq := newCompletionQueue(ring)

	ts := uring.KernelTimespec{Sec: 0, Nsec: 1}
	require.NoError(t, sq.addTimeout(&ts))
	_, err := sq.submitAndWait()
	require.NoError(t, err)

	var gotOp uint16
	var gotFD int
	n := cq.process(func(fd int, res int32, flags uint32, op uint16, mask uint16) bool {
		gotFD = fd
		gotOp = op
		return true
	})

	require.Equal(t, 1, n)
	require.Equal(t, uint16(uring.OpCodeTimeout), gotOp)
	require.Equal(t, -1, gotFD)
	require.False(t, cq.hasCompletions())
}

func TestCompletionQueueHasCompletionsBeforeProcess(t *testing.T) {
	ring := newTestRing(t)
	sq := newSubmissionQueue(ring, logging.Default())
	cq := newCompletionQueue(ring)

	require.False(t, cq.hasCompletions())

	ts := uring.KernelTimespec{Sec: 0, Nsec: 1}
	require.NoError(t, sq.addTimeout(&ts))
	_, err := sq.submitAndWait()
	require.NoError(t, err)

	require.True(t, cq.hasCompletions())
	require.EqualValues(t, 1, cq.completionCount())
}
