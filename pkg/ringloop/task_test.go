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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueRoundTrip(t *testing.T) {
	q := newTaskQueue(4)

	var ran []int
	for i := 0; i < 4; i++ {
		i := i
		require.True(t, q.Enqueue(func() { ran = append(ran, i) }))
	}

	for i := 0; i < 4; i++ {
		fn, ok := q.Dequeue()
		require.True(t, ok)
		fn()
	}
	assert.Equal(t, []int{0, 1, 2, 3}, ran)

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestTaskQueueFullRejectsEnqueue(t *testing.T) {
	q := newTaskQueue(2)

	assert.True(t, q.Enqueue(func() {}))
	assert.True(t, q.Enqueue(func() {}))
	assert.False(t, q.Enqueue(func() {}), "capacity is rounded to a power of two and must not silently grow")
}

func TestTaskQueueConcurrentProducers(t *testing.T) {
	q := newTaskQueue(1024)
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(func() {}) {
					// Single consumer in this test drains concurrently, so
					// a momentarily full queue just needs a retry.
				}
			}
		}()
	}

	drained := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for drained < producers*perProducer {
			if _, ok := q.Dequeue(); ok {
				drained++
			}
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, producers*perProducer, drained)
}
