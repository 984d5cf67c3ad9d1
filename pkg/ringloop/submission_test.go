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

	"github.com/ringlab/uring/pkg/uring"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalOpFoldsFixedAndVectoredVariants(t *testing.T) {
	assert.Equal(t, uint16(uring.OpCodeRead), canonicalOp(uring.OpCodeReadFixed))
	assert.Equal(t, uint16(uring.OpCodeWrite), canonicalOp(uring.OpCodeWriteFixed))
	assert.Equal(t, uint16(uring.OpCodeWrite), canonicalOp(uring.OpCodeWriteV))
	assert.Equal(t, uint16(uring.OpCodeRead), canonicalOp(uring.OpCodeRead))
	assert.Equal(t, uint16(uring.OpCodeAccept), canonicalOp(uring.OpCodeAccept))
}

func TestUserDataRoundTrip(t *testing.T) {
	cases := []struct {
		fd   int
		op   uring.OpCode
		mask uint16
	}{
		{fd: 3, op: uring.OpCodeRead, mask: 0},
		{fd: 4, op: uring.OpCodeWrite, mask: 0},
		{fd: 5, op: uring.OpCodePollAdd, mask: PollIn | PollRdHup},
		{fd: -1, op: uring.OpCodeTimeout, mask: 0},
		{fd: 0, op: uring.OpCodeAccept, mask: 0},
	}

	for _, tc := range cases {
		encoded := userData(tc.fd, tc.op, tc.mask)
		fd, op, mask := decodeUserData(encoded)
		assert.Equal(t, tc.fd, fd)
		assert.Equal(t, canonicalOp(tc.op), op)
		assert.Equal(t, tc.mask, mask)
	}
}

func TestUserDataFixedVariantsDecodeToCanonicalOp(t *testing.T) {
	encoded := userData(7, uring.OpCodeReadFixed, 0)
	_, op, _ := decodeUserData(encoded)
	assert.Equal(t, uint16(uring.OpCodeRead), op)
}

func TestUserDataNegativeFDRoundTrips(t *testing.T) {
	encoded := userData(-1, uring.OpCodeTimeoutRemove, 0)
	fd, op, _ := decodeUserData(encoded)
	assert.Equal(t, -1, fd)
	assert.Equal(t, uint16(uring.OpCodeTimeoutRemove), op)
}
