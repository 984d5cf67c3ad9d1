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

package buffer

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteAndReset(t *testing.T) {
	buf, err := New(64)
	require.NoError(t, err)
	defer buf.Close()

	n, err := buf.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), buf.Bytes())

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	assert.GreaterOrEqual(t, buf.Cap(), 64)
}

func TestBufferGrowsPastCapacity(t *testing.T) {
	buf, err := New(4)
	require.NoError(t, err)
	defer buf.Close()

	payload := make([]byte, 512)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	n, err := buf.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf.Bytes())
	assert.GreaterOrEqual(t, buf.Cap(), len(payload))
}

func TestPoolRoundTrip(t *testing.T) {
	buf, err := GetBuffer()
	require.NoError(t, err)

	_, err = buf.Write([]byte("pooled"))
	require.NoError(t, err)
	PutBuffer(buf)

	buf2, err := GetBuffer()
	require.NoError(t, err)
	assert.Equal(t, 0, buf2.Len(), "pool must Reset before returning a buffer")
	PutBuffer(buf2)
}

func BenchmarkBufferAllocationsNoResize(b *testing.B) {
	randomBytes := make([]byte, 512)
	_, err := rand.Read(randomBytes)
	if err != nil {
		b.Fatalf("failed to read random bytes: %v", err)
	}

	buf, err := New(512)
	if err != nil {
		b.Fatalf("failed to create buffer: %v", err)
	}

	b.Cleanup(func() {
		if err := buf.Close(); err != nil {
			b.Fatalf("failed to close buffer: %v", err)
		}
	})

	var num int

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		num, err = buf.Write(randomBytes)
		if err != nil {
			b.Fatalf("failed to write bytes: %v", err)
		}
		if num != len(randomBytes) {
			b.Fatalf("number of bytes written is not correct: %d", num)
		}
		buf.Reset()
	}
}

func BenchmarkBufferAllocationsNoResizePool(b *testing.B) {
	randomBytes := make([]byte, 512)
	_, err := rand.Read(randomBytes)
	if err != nil {
		b.Fatalf("failed to read random bytes: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var num int
		var buf *Buffer
		var err error
		for pb.Next() {
			buf, err = GetBuffer()
			if err != nil {
				b.Fatalf("failed to write bytes: %v", err)
			}
			num, err = buf.Write(randomBytes)
			if err != nil {
				b.Fatalf("failed to write bytes: %v", err)
			}
			if num != len(randomBytes) {
				b.Fatalf("number of bytes written is not correct: %d", num)
			}
			PutBuffer(buf)
		}
	})
}
