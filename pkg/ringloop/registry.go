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

// channelRegistry maps fd to Channel. It is a relation, not an ownership
// map, and is only ever mutated on the event-loop thread.
type channelRegistry struct {
	channels map[int]Channel
	log      *logging.Logger

	// fdReuseCount counts how many times add() or remove() observed the
	// slot already holding a different channel than expected, i.e. the fd
	// was closed and reused before the stale registration was cleaned up.
	// Diagnostics only; not part of any spec.md-named operation.
	fdReuseCount int
}

func newChannelRegistry(log *logging.Logger) *channelRegistry {
	return &channelRegistry{
		channels: make(map[int]Channel, 4096),
		log:      log,
	}
}

func (r *channelRegistry) add(ch Channel) {
	fd := ch.FD()
	if existing, ok := r.channels[fd]; ok && existing != ch {
		r.fdReuseCount++
		r.log.Trace().Int("fd", fd).Msg("channel registry: displacing stale mapping on add")
	}
	r.channels[fd] = ch
}

// remove deletes the mapping for ch's fd iff it still points at ch. If the
// slot has already been reclaimed by a newer channel (fd reuse racing a
// delayed close), the newer mapping is left untouched and ch must already
// be closed.
func (r *channelRegistry) remove(ch Channel) {
	fd := ch.FD()
	current, ok := r.channels[fd]
	if !ok {
		return
	}
	if current != ch {
		r.fdReuseCount++
		r.log.Trace().Int("fd", fd).Msg("channel registry: remove raced fd reuse, restoring newer mapping")
		return
	}
	delete(r.channels, fd)
}

func (r *channelRegistry) get(fd int) (Channel, bool) {
	ch, ok := r.channels[fd]
	return ch, ok
}

func (r *channelRegistry) removeFD(fd int) {
	delete(r.channels, fd)
}

func (r *channelRegistry) all() []Channel {
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

func (r *channelRegistry) reuseDiagnosticsCount() int {
	return r.fdReuseCount
}
