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
	"fmt"
	"time"

	"github.com/eapache/queue"
	"github.com/ringlab/uring/internal/logging"
	"github.com/ringlab/uring/pkg/uring"
	"golang.org/x/sys/unix"
)

// scheduledTask is a deferred action with an absolute deadline, kept in a
// slice sorted ascending by deadline. Loads are small in practice (one
// armed kernel TIMEOUT ever maps to at most the earliest entry), so a
// sorted-insert slice is simpler than a heap without costing anything
// observable.
type scheduledTask struct {
	deadlineNanos int64
	fn            func()
}

// EventLoop is the single-threaded cooperative driver described in
// spec.md §4.3: it owns the ring, the submission/completion queues, the
// channel registry, the wake-up/timeout state, and the task queue, and it
// must only ever be driven from the goroutine that calls Run.
type EventLoop struct {
	ring     *uring.Ring
	sq       *SubmissionQueue
	cq       *CompletionQueue
	registry *channelRegistry
	wakeup   *wakeupState
	timeouts *timeoutState
	fixedBuf *fixedBufferTracker
	tasks    *taskQueue
	ready    *queue.Queue
	log      *logging.Logger

	scheduled []*scheduledTask

	shuttingDown bool
	closed       bool
}

// New constructs an EventLoop: it opens the ring and the eventfd and
// prepares an empty channel registry. The eventfd READ is first queued by
// Run, as an ordinary SQE; no SQE slot is held back for it. The loop does
// not start running until Run is called.
func New(cfg *Config) (*EventLoop, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.logger().WithComponent("ringloop")

	ring, err := uring.NewRing()
	if err != nil {
		return nil, err
	}
	if err := ring.QueueInit(cfg.RingEntries, cfg.SetupFlags); err != nil {
		return nil, fmt.Errorf("ringloop: queue_init: %w", err)
	}

	w, err := newWakeupState()
	if err != nil {
		_ = ring.Close()
		return nil, fmt.Errorf("ringloop: eventfd: %w", err)
	}

	l := &EventLoop{
		ring:     ring,
		sq:       newSubmissionQueue(ring, log),
		cq:       newCompletionQueue(ring),
		registry: newChannelRegistry(log),
		wakeup:   w,
		timeouts: newTimeoutState(),
		fixedBuf: newFixedBufferTracker(log),
		tasks:    newTaskQueue(cfg.TaskQueueCapacity),
		ready:    queue.New(),
		log:      log,
	}
	return l, nil
}

// SQ exposes the submission queue so channel implementations can enqueue
// their own operations from within loop-thread callbacks.
func (l *EventLoop) SQ() *SubmissionQueue { return l.sq }

// AddChannel registers a channel under its own fd.
func (l *EventLoop) AddChannel(ch Channel) {
	l.registry.add(ch)
}

// RemoveChannel removes ch's registration, restoring a newer mapping if
// the fd was reused before the removal ran (spec.md §4.4).
func (l *EventLoop) RemoveChannel(ch Channel) {
	l.registry.remove(ch)
}

// MarkBuffersDirty informs the loop that the registered fixed-buffer set
// has changed; reconciliation happens opportunistically once in-flight
// I/O drains to zero (spec.md §4.5).
func (l *EventLoop) MarkBuffersDirty(iovecs []unix.Iovec) {
	l.fixedBuf.markDirty(iovecs)
}

// Schedule queues fn to run once no earlier than delay from now, and
// ensures the loop (which may be blocked in submitAndWait) re-evaluates
// its deadline.
func (l *EventLoop) Schedule(delay time.Duration, fn func()) {
	deadline := time.Now().UnixNano() + delay.Nanoseconds()
	task := &scheduledTask{deadlineNanos: deadline, fn: fn}

	i := 0
	for ; i < len(l.scheduled); i++ {
		if l.scheduled[i].deadlineNanos > deadline {
			break
		}
	}
	l.scheduled = append(l.scheduled, nil)
	copy(l.scheduled[i+1:], l.scheduled[i:])
	l.scheduled[i] = task

	_ = l.wakeup.wakeup(false)
}

// Execute enqueues fn to run on the loop thread, from any thread. This is
// the sole non-eventfd cross-thread boundary described in spec.md §5.
func (l *EventLoop) Execute(fn func()) bool {
	ok := l.tasks.Enqueue(fn)
	if ok {
		_ = l.wakeup.wakeup(false)
	}
	return ok
}

// Shutdown requests a graceful stop: while shutting down, every busy-phase
// pass asks each registered channel to RemovePolls, and the loop exits once
// ConfirmShutdown reports no further cleanup is outstanding. The loop does
// not close channels itself; a channel leaves the registry through its own
// RemoveChannel call, or when a POLL_REMOVE completes while it is inactive
// with no I/O scheduled.
func (l *EventLoop) Shutdown() {
	l.shuttingDown = true
	_ = l.wakeup.wakeup(false)
}

func (l *EventLoop) nextScheduledTaskDeadlineNanos() int64 {
	if len(l.scheduled) == 0 {
		return wakeupNone
	}
	return l.scheduled[0].deadlineNanos
}

// runDueScheduledTasks pops and executes every scheduled task whose
// deadline has passed, returning whether it ran anything.
func (l *EventLoop) runDueScheduledTasks(nowNanos int64) bool {
	ran := false
	for len(l.scheduled) > 0 && l.scheduled[0].deadlineNanos <= nowNanos {
		task := l.scheduled[0]
		l.scheduled = l.scheduled[1:]
		task.fn()
		ran = true
	}
	return ran
}

// runAllTasks drains the lock-free MPSC task queue into a local FIFO
// staging buffer and runs every task currently in it. Staging the drained
// tasks rather than running them as they're popped keeps a producer that
// is concurrently enqueueing from extending this pass indefinitely.
func (l *EventLoop) runAllTasks() bool {
	for {
		fn, ok := l.tasks.Dequeue()
		if !ok {
			break
		}
		l.ready.Add(fn)
	}
	if l.ready.Length() == 0 {
		return false
	}
	for l.ready.Length() > 0 {
		fn := l.ready.Peek().(func())
		l.ready.Remove()
		fn()
	}
	return true
}

func (l *EventLoop) hasTasks() bool {
	return l.ready.Length() > 0
}

func (l *EventLoop) closeAllChannels() {
	for _, ch := range l.registry.all() {
		ch.RemovePolls()
	}
}

// ConfirmShutdown reports whether it is safe to stop the loop: every
// channel must have left the registry and no I/O may be in flight.
func (l *EventLoop) ConfirmShutdown() bool {
	return len(l.registry.channels) == 0 && l.sq.ioInFlightCount() == 0
}

// Close releases the ring, the eventfd, and everything else the loop owns.
// Call only after Run has returned.
func (l *EventLoop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	werr := l.wakeup.close()
	rerr := l.ring.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// Run is the event loop's main body, grounded on
// IOUringEventLoop.run()/handle()/wakeup(). It blocks until Shutdown has
// been called and ConfirmShutdown reports true.
func (l *EventLoop) Run() error {
	if l.fixedBuf.isDirty() {
		if err := l.fixedBuf.reconcile(l.ring); err != nil {
			return err
		}
	}

	if err := l.sq.armEventfdRead(l.wakeup); err != nil {
		return err
	}

	for {
		if stop := l.runIteration(); stop {
			return nil
		}
	}
}

// runIteration runs one full pass of the state machine described in
// spec.md §4.3 and reports whether the loop should stop. Any panic raised
// while processing completions, tasks, or shutdown is treated the same
// way IOUringEventLoop.handleLoopException treats an uncaught exception:
// logged at WARN and followed by a one-second cool-down before the loop
// continues, so a single bad completion callback cannot spin the thread.
func (l *EventLoop) runIteration() (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Warn().Interface("panic", r).Msg("unexpected panic in ring event loop")
			time.Sleep(time.Second)
		}
	}()

	maybeMoreWork := true
	for maybeMoreWork {
		completions := l.cq.process(l.handle)
		ranTasks := l.runAllTasks()
		ranScheduled := l.runDueScheduledTasks(time.Now().UnixNano())
		maybeMoreWork = completions != 0 || ranTasks || ranScheduled

		if l.shuttingDown {
			l.closeAllChannels()
			if l.ConfirmShutdown() {
				return true
			}
			if !maybeMoreWork {
				maybeMoreWork = l.hasTasks() || l.cq.hasCompletions()
			}
		}
	}

	if l.fixedBuf.isDirty() && l.sq.ioInFlightCount() == 0 {
		if err := l.fixedBuf.pauseLongIO(l.sq, l.registry, l.wakeup, l.timeouts); err != nil {
			l.log.Warn().Err(err).Msg("pause-long-io failed")
		}
		if err := l.fixedBuf.reconcile(l.ring); err != nil {
			l.log.Warn().Err(err).Msg("fixed buffer reconcile failed")
		}
		return false
	}

	curDeadlineNanos := l.nextScheduledTaskDeadlineNanos()
	l.wakeup.armDeadline(curDeadlineNanos)

	if !l.hasTasks() {
		now := time.Now().UnixNano()
		if err := l.timeouts.rearm(l.sq, curDeadlineNanos, now); err != nil {
			l.log.Warn().Err(err).Msg("timeout rearm failed")
		}

		if !l.cq.hasCompletions() {
			if _, err := l.sq.submitAndWait(); err != nil {
				l.log.Warn().Err(err).Msg("submitAndWait failed")
				time.Sleep(time.Second)
			}
		}
	}
	l.wakeup.settleAfterWake()

	return false
}

// handle is the completion dispatch table, grounded on
// IOUringEventLoop.handle(fd, res, flags, op, pollMask).
func (l *EventLoop) handle(fd int, res int32, _ uint32, op uint16, mask uint16) bool {
	switch {
	case op == uint16(uring.OpCodeRead) && fd == l.wakeup.fd:
		l.wakeup.pendingWakeup = false
		if err := l.sq.armEventfdRead(l.wakeup); err != nil {
			l.log.Warn().Err(err).Msg("failed to re-arm eventfd read")
		}
		return true
	case op == uint16(uring.OpCodeTimeout):
		if res == -int32(unix.ETIME) {
			l.timeouts.clearOnExpiry()
		}
		return true
	}

	ch, ok := l.registry.get(fd)
	if !ok {
		return true
	}

	switch uring.OpCode(op) {
	case uring.OpCodeRead, uring.OpCodeAccept:
		l.sq.ioOpComplete()
		ch.ReadComplete(res)
	case uring.OpCodeWrite:
		l.sq.ioOpComplete()
		ch.WriteComplete(res)
	case uring.OpCodePollAdd:
		if res != -int32(unix.ECANCELED) {
			if mask&PollOut != 0 {
				ch.PollOutComplete(res)
			}
			if mask&PollIn != 0 {
				ch.PollInComplete(res)
			}
			if mask&PollRdHup != 0 {
				ch.PollRdHupComplete(res)
			}
		} else if ch.IsActive() {
			if err := l.sq.addPoll(fd, mask); err != nil {
				l.log.Warn().Err(err).Msg("failed to reinstate poll after register pause")
			}
		}
	case uring.OpCodePollRemove:
		if res == -int32(unix.ENOENT) {
			l.log.Trace().Int("fd", fd).Msg("POLL_REMOVE not successful")
		}
		if !ch.IsActive() && !ch.IoScheduled() {
			l.registry.removeFD(fd)
			return true
		}
	case uring.OpCodeConnect:
		l.sq.ioOpComplete()
		ch.ConnectComplete(res)
	}

	ch.ProcessDelayedClose()
	return true
}
