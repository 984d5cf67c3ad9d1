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

// Command uringloop-echo is a minimal TCP echo server built directly on
// pkg/ringloop, exercising the full accept/read/write/close cycle of the
// event loop end to end.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ringlab/uring/internal/logging"
	"github.com/ringlab/uring/pkg/ringloop"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:9090", "address to listen on")
	ringEntries := flag.Uint("ring-entries", 256, "io_uring SQ/CQ entry count")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	if *verbose {
		logCfg.Level = logging.LevelDebug
	}
	log := logging.New(logCfg)
	logging.SetDefault(log)

	loop, err := ringloop.New(&ringloop.Config{
		RingEntries:       uint32(*ringEntries),
		TaskQueueCapacity: 4096,
		Logger:            log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "uringloop-echo: %v\n", err)
		os.Exit(1)
	}

	l, err := newListener(loop, log, *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uringloop-echo: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGUSR1)
	go func() {
		buf := make([]byte, 1<<20)
		for range dumpCh {
			n := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:n])
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- loop.Run()
	}()

	log.Info().Str("addr", *listenAddr).Msg("uringloop-echo listening")

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		l.close()
		loop.Shutdown()
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("event loop exited with error")
		}
		_ = loop.Close()
		os.Exit(1)
	}

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("event loop exited with error")
		}
	case <-time.After(5 * time.Second):
		log.Warn().Msg("graceful shutdown timed out")
	}

	if err := loop.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event loop")
	}
}
