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

package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesJSONSynchronously(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{
		Level:  LevelInfo,
		Format: "json",
		Output: &buf,
		Sync:   true,
	})

	log.Info().Str("component", "test").Msg("hello")
	assert.Contains(t, buf.String(), `"message":"hello"`)
	assert.Contains(t, buf.String(), `"component":"test"`)
}

func TestLoggerLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{
		Level:  LevelWarn,
		Format: "json",
		Output: &buf,
		Sync:   true,
	})

	log.Info().Msg("should be dropped")
	log.Warn().Msg("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be dropped")
	assert.Contains(t, out, "should appear")
}

func TestWithComponentAndWithFDAddFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: LevelInfo, Format: "json", Output: &buf, Sync: true})

	scoped := log.WithComponent("ringloop").WithFD(7)
	scoped.Info().Msg("scoped")

	out := buf.String()
	assert.Contains(t, out, `"component":"ringloop"`)
	assert.Contains(t, out, `"fd":7`)
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}

func TestSetDefaultReplacesSingleton(t *testing.T) {
	custom := New(DefaultConfig())
	SetDefault(custom)
	t.Cleanup(func() { SetDefault(nil) })
	assert.Same(t, custom, Default())
}

func TestAsyncWriterDoesNotBlockOnFullBuffer(t *testing.T) {
	aw := newAsyncWriter(&discardAfterDelay{}, 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_, _ = aw.Write([]byte(strings.Repeat("x", 64)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("asyncWriter.Write blocked instead of dropping on a full buffer")
	}
	require.NoError(t, aw.Close())
}

type discardAfterDelay struct{}

func (discardAfterDelay) Write(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return len(p), nil
}
