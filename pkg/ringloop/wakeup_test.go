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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestWakeupState(t *testing.T) *wakeupState {
	t.Helper()
	w, err := newWakeupState()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.close() })
	return w
}

func TestNewWakeupStateStartsAwake(t *testing.T) {
	w := newTestWakeupState(t)
	assert.Equal(t, wakeupAwake, w.nextWakeupNano.Load())
}

func TestWakeupFromOtherThreadWritesEventfdOnce(t *testing.T) {
	w := newTestWakeupState(t)
	w.armDeadline(12345)

	require.NoError(t, w.wakeup(false))
	assert.Equal(t, wakeupAwake, w.nextWakeupNano.Load())

	// A second wakeup() call while already awake must not block or error
	// even though nothing drained the first eventfd write yet.
	require.NoError(t, w.wakeup(false))

	var buf [8]byte
	n, err := unix.Read(w.fd, buf[:])
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf[:]), "only the first wakeup() should have written to the eventfd")
}

func TestWakeupFromLoopThreadIsNoop(t *testing.T) {
	w := newTestWakeupState(t)
	w.armDeadline(999)
	require.NoError(t, w.wakeup(true))
	assert.Equal(t, int64(999), w.nextWakeupNano.Load())
}

func TestSettleAfterWakeArmsPendingWhenAlreadyAwake(t *testing.T) {
	w := newTestWakeupState(t)
	w.nextWakeupNano.Store(wakeupAwake)
	w.settleAfterWake()
	assert.True(t, w.pendingWakeup)
}

func TestSettleAfterWakeLeavesPendingFalseWhenDeadlineStillFuture(t *testing.T) {
	w := newTestWakeupState(t)
	w.armDeadline(wakeupNone)
	w.settleAfterWake()
	assert.False(t, w.pendingWakeup)
}
