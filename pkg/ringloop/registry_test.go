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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel is a bare Channel stub for registry/loop unit tests; it
// records nothing beyond its fd and an active flag.
type fakeChannel struct {
	fd     int
	active bool
}

func (f *fakeChannel) FD() int                { return f.fd }
func (f *fakeChannel) ReadComplete(int32)     {}
func (f *fakeChannel) WriteComplete(int32)    {}
func (f *fakeChannel) ConnectComplete(int32)  {}
func (f *fakeChannel) PollInComplete(int32)           {}
func (f *fakeChannel) PollOutComplete(int32)          {}
func (f *fakeChannel) PollRdHupComplete(int32)        {}
func (f *fakeChannel) ProcessDelayedClose()   {}
func (f *fakeChannel) IsActive() bool         { return f.active }
func (f *fakeChannel) IoScheduled() bool      { return false }
func (f *fakeChannel) RemovePolls()           {}

func TestRegistryAddGetRemove(t *testing.T) {
	r := newChannelRegistry(logging.Default())
	ch := &fakeChannel{fd: 5, active: true}

	r.add(ch)
	got, ok := r.get(5)
	require.True(t, ok)
	assert.Same(t, ch, got)

	r.remove(ch)
	_, ok = r.get(5)
	assert.False(t, ok)
}

func TestRegistryFDReuseRaceKeepsNewerMapping(t *testing.T) {
	r := newChannelRegistry(logging.Default())
	old := &fakeChannel{fd: 9, active: true}
	r.add(old)

	// The fd was closed and immediately reused by a new channel before the
	// old channel's delayed close got around to calling remove.
	fresh := &fakeChannel{fd: 9, active: true}
	r.add(fresh)
	assert.Equal(t, 1, r.reuseDiagnosticsCount())

	r.remove(old)
	got, ok := r.get(9)
	require.True(t, ok)
	assert.Same(t, fresh, got, "remove() of a stale channel must not evict the fd's current occupant")
	assert.Equal(t, 2, r.reuseDiagnosticsCount())
}

func TestRegistryRemoveUnknownFDIsNoop(t *testing.T) {
	r := newChannelRegistry(logging.Default())
	ch := &fakeChannel{fd: 1}
	r.remove(ch)
	_, ok := r.get(1)
	assert.False(t, ok)
}

func TestRegistryAll(t *testing.T) {
	r := newChannelRegistry(logging.Default())
	r.add(&fakeChannel{fd: 1})
	r.add(&fakeChannel{fd: 2})
	r.add(&fakeChannel{fd: 3})
	assert.Len(t, r.all(), 3)
}
