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

	"github.com/stretchr/testify/assert"
)

func TestSetTimespecSplitsSecondsAndNanos(t *testing.T) {
	ts := newTimeoutState()

	ts.setTimespec(1_500_000_001)
	assert.EqualValues(t, 1, ts.ts.Sec)
	assert.EqualValues(t, 500_000_001, ts.ts.Nsec)
}

func TestSetTimespecSubSecondDelay(t *testing.T) {
	ts := newTimeoutState()

	// A `% 1000` bug would have kept only the sub-microsecond part of this
	// delay (789ns); the nanosecond field must carry the whole sub-second
	// remainder.
	ts.setTimespec(123_456_789)
	assert.EqualValues(t, 0, ts.ts.Sec)
	assert.EqualValues(t, 123_456_789, ts.ts.Nsec)
}

func TestSetTimespecNonPositiveDelayIsImmediate(t *testing.T) {
	ts := newTimeoutState()
	ts.setTimespec(0)
	assert.EqualValues(t, 0, ts.ts.Sec)
	assert.EqualValues(t, 0, ts.ts.Nsec)

	ts.setTimespec(-5)
	assert.EqualValues(t, 0, ts.ts.Sec)
	assert.EqualValues(t, 0, ts.ts.Nsec)
}

func TestNewTimeoutStateStartsUnarmed(t *testing.T) {
	ts := newTimeoutState()
	assert.Equal(t, wakeupNone, ts.prevDeadlineNanos)
}

func TestClearOnExpiryResetsDeadline(t *testing.T) {
	ts := newTimeoutState()
	ts.prevDeadlineNanos = 42
	ts.clearOnExpiry()
	assert.Equal(t, wakeupNone, ts.prevDeadlineNanos)
}
