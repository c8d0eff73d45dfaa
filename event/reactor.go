package event

import (
	"bytes"
	"container/heap"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/flowmesh/dtc/log"
)

// defaultWorkers mirrors the source's hardware_concurrency() default.
func defaultWorkers() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// fdWatch tracks the at-most-one read and at-most-one write Event
// registered against a single file descriptor; epoll is configured with
// their combined readiness mask.
type fdWatch struct {
	read  *Event
	write *Event
}

// Reactor is a single-owner event loop: one goroutine calls Dispatch and
// drives everything else (timer expiry, device readiness, deferred
// promises) from that loop; every other goroutine only ever reaches the
// reactor through Promise, Async, or the Insert/Remove/Freeze/Thaw
// builders, never by touching Event/timer/fd state directly.
type Reactor struct {
	epfd       int
	notifierFd int

	mu      sync.Mutex
	events  map[*Event]struct{}
	timers  timerHeap
	fds     map[int]*fdWatch
	seq     uint64
	syncTP  time.Time
	running bool

	ownerID int64 // 0 when nobody is dispatching

	promises chan func()

	workers  chan func()
	workerWG sync.WaitGroup
	nWorkers int

	breakLoop   int32
	threshold   int
	breakLoopOn func(*Reactor) bool
}

// New creates a Reactor with the given worker pool size (0 selects
// runtime.NumCPU). Construction fails if the epoll instance or the
// notifier eventfd cannot be created (spec.md section 4.2 Failure).
func New(workers int) (*Reactor, error) {
	if workers <= 0 {
		workers = defaultWorkers()
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	notifierFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	r := &Reactor{
		epfd:       epfd,
		notifierFd: notifierFd,
		events:     make(map[*Event]struct{}),
		fds:        make(map[int]*fdWatch),
		syncTP:     time.Now(),
		promises:   make(chan func(), 256),
		workers:    make(chan func(), 256),
		nWorkers:   workers,
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, notifierFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(notifierFd),
	}); err != nil {
		unix.Close(notifierFd)
		unix.Close(epfd)
		return nil, err
	}

	for i := 0; i < workers; i++ {
		r.workerWG.Add(1)
		go r.runWorker()
	}

	return r, nil
}

func (r *Reactor) runWorker() {
	defer r.workerWG.Done()
	for job := range r.workers {
		job()
	}
}

func (r *Reactor) submitWork(job func()) {
	r.workers <- job
}

func (r *Reactor) enqueuePromise(task func()) {
	r.promises <- task
	r.notify()
}

// notify wakes the owner goroutine's EpollWait by writing to the notifier
// eventfd.
func (r *Reactor) notify() {
	var v uint64 = 1
	var b [8]byte
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	unix.Write(r.notifierFd, b[:])
}

func (r *Reactor) drainNotifier() {
	var b [8]byte
	for {
		_, err := unix.Read(r.notifierFd, b[:])
		if err != nil {
			return
		}
	}
}

// goroutineID extracts the runtime goroutine id from a stack trace header
// ("goroutine 123 [running]:"). Go exposes no public, portable goroutine
// identity; this backs IsOwner, which Promise uses to decide whether to run
// a task inline or queue it for the owner.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// IsOwner reports whether the calling goroutine is the one currently
// running Dispatch (see goroutineID). Promise relies on it, so Insert,
// Remove and every other Promise-based call do too.
func (r *Reactor) IsOwner() bool {
	return atomic.LoadInt64(&r.ownerID) == goroutineID()
}

// NumEvents returns the number of events currently registered.
func (r *Reactor) NumEvents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// NumWorkers returns the worker pool size.
func (r *Reactor) NumWorkers() int {
	return r.nWorkers
}

// Threshold sets the event-count floor at or below which Dispatch returns.
func (r *Reactor) Threshold(n int) { r.threshold = n }

// BreakLoopOn installs a custom termination predicate, checked once per
// Dispatch turn in addition to the break flag and threshold.
func (r *Reactor) BreakLoopOn(pred func(*Reactor) bool) { r.breakLoopOn = pred }

// Insert registers ev with the reactor.
func (r *Reactor) Insert(ev *Event) *Future[struct{}] {
	return Promise(r, func() (struct{}, error) {
		r.insertNow(ev)
		return struct{}{}, nil
	})
}

func (r *Reactor) insertNow(ev *Event) {
	r.mu.Lock()
	r.seq++
	ev.seq = r.seq
	ev.removed = false
	r.events[ev] = struct{}{}
	r.mu.Unlock()

	switch ev.kind {
	case Timeout, Periodic:
		r.mu.Lock()
		heap.Push(&r.timers, ev)
		r.mu.Unlock()
	case Read:
		r.arm(ev, true)
	case Write:
		r.arm(ev, false)
	}
}

// Remove unregisters each event; in-flight handler invocations are
// unaffected, but the event will not be re-armed or re-queued afterward.
func (r *Reactor) Remove(evs ...*Event) *Future[struct{}] {
	return Promise(r, func() (struct{}, error) {
		for _, ev := range evs {
			r.removeNow(ev)
		}
		return struct{}{}, nil
	})
}

func (r *Reactor) removeNow(ev *Event) {
	r.mu.Lock()
	ev.removed = true
	delete(r.events, ev)
	inHeap := ev.index >= 0
	r.mu.Unlock()

	if inHeap {
		r.mu.Lock()
		if ev.index >= 0 && ev.index < len(r.timers) && r.timers[ev.index] == ev {
			heap.Remove(&r.timers, ev.index)
		}
		r.mu.Unlock()
	}

	if ev.dev != nil {
		r.disarm(ev, ev.kind == Read)
	}
}

// Freeze temporarily removes Read/Write events from epoll without
// forgetting them, so Thaw can restore the exact same registration.
func (r *Reactor) Freeze(evs ...*Event) *Future[struct{}] {
	return Promise(r, func() (struct{}, error) {
		for _, ev := range evs {
			if ev.dev != nil {
				r.disarm(ev, ev.kind == Read)
			}
		}
		return struct{}{}, nil
	})
}

// Thaw re-registers events previously Frozen.
func (r *Reactor) Thaw(evs ...*Event) *Future[struct{}] {
	return Promise(r, func() (struct{}, error) {
		for _, ev := range evs {
			if ev.dev != nil {
				r.arm(ev, ev.kind == Read)
			}
		}
		return struct{}{}, nil
	})
}

// BreakLoop flips the termination flag; Dispatch notices it on its next
// turn.
func (r *Reactor) BreakLoop() *Future[struct{}] {
	return Promise(r, func() (struct{}, error) {
		atomic.StoreInt32(&r.breakLoop, 1)
		return struct{}{}, nil
	})
}

func (r *Reactor) watch(fd int) *fdWatch {
	w, ok := r.fds[fd]
	if !ok {
		w = &fdWatch{}
		r.fds[fd] = w
	}
	return w
}

func (r *Reactor) epollMask(w *fdWatch) uint32 {
	var mask uint32
	if w.read != nil {
		mask |= unix.EPOLLIN
	}
	if w.write != nil {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (r *Reactor) arm(ev *Event, isRead bool) {
	fd := ev.dev.Fd()

	r.mu.Lock()
	w := r.watch(fd)
	before := r.epollMask(w)
	if isRead {
		w.read = ev
	} else {
		w.write = ev
	}
	after := r.epollMask(w)
	ev.armed = true
	r.mu.Unlock()

	r.syncEpoll(fd, before, after)
}

func (r *Reactor) disarm(ev *Event, isRead bool) {
	fd := ev.dev.Fd()

	r.mu.Lock()
	w, ok := r.fds[fd]
	if !ok {
		r.mu.Unlock()
		return
	}
	before := r.epollMask(w)
	if isRead {
		w.read = nil
	} else {
		w.write = nil
	}
	after := r.epollMask(w)
	ev.armed = false
	empty := w.read == nil && w.write == nil
	if empty {
		delete(r.fds, fd)
	}
	r.mu.Unlock()

	r.syncEpoll(fd, before, after)
}

func (r *Reactor) syncEpoll(fd int, before, after uint32) {
	ev := &unix.EpollEvent{Events: after, Fd: int32(fd)}
	switch {
	case before == 0 && after != 0:
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	case before != 0 && after == 0:
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
	case before != after:
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
}

// Dispatch runs the reactor loop on the calling goroutine until BreakLoop
// is invoked, NumEvents drops to the configured threshold, or the custom
// predicate returns true (spec.md section 4.2).
func (r *Reactor) Dispatch() {
	atomic.StoreInt64(&r.ownerID, goroutineID())
	defer atomic.StoreInt64(&r.ownerID, 0)

	for {
		r.drainPromises()

		if r.shouldBreak() {
			return
		}

		r.pollOnce(r.nextTimeoutMillis())
		r.mu.Lock()
		r.syncTP = time.Now()
		r.mu.Unlock()
		r.activateTimers()
	}
}

func (r *Reactor) drainPromises() {
	for {
		select {
		case task := <-r.promises:
			task()
		default:
			return
		}
	}
}

func (r *Reactor) shouldBreak() bool {
	if atomic.LoadInt32(&r.breakLoop) != 0 {
		return true
	}
	if r.NumEvents() <= r.threshold {
		return true
	}
	if r.breakLoopOn != nil && r.breakLoopOn(r) {
		return true
	}
	return false
}

func (r *Reactor) nextTimeoutMillis() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) == 0 {
		return -1
	}
	d := time.Until(r.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

func (r *Reactor) pollOnce(timeoutMs int) {
	var buf [64]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, buf[:], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return
		}
		return
	}

	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		if fd == r.notifierFd {
			r.drainNotifier()
			continue
		}

		r.mu.Lock()
		w, ok := r.fds[fd]
		r.mu.Unlock()
		if !ok {
			continue
		}

		mask := buf[i].Events
		if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && w.read != nil {
			r.fireIO(w, true)
		}
		if mask&(unix.EPOLLOUT|unix.EPOLLERR) != 0 && w.write != nil {
			r.fireIO(w, false)
		}
	}
}

// fireIO implements the Read/Write activation rule: disarm the direction,
// run the handler on the worker pool, then re-arm only if the handler
// returned Default and the event is still registered (spec.md section
// 4.2/§5 — handlers run on worker goroutines, never on the owner itself;
// the re-arm/forget bookkeeping is serialized back onto the owner through
// the promise queue since it touches epoll/timer state).
func (r *Reactor) fireIO(w *fdWatch, isRead bool) {
	var ev *Event
	if isRead {
		ev = w.read
	} else {
		ev = w.write
	}
	if ev == nil {
		return
	}

	r.disarm(ev, isRead)

	r.submitWork(func() {
		sig := r.runHandler(ev)

		r.enqueuePromise(func() {
			r.mu.Lock()
			removed := ev.removed
			r.mu.Unlock()

			if sig == Default && !removed {
				r.arm(ev, isRead)
				return
			}
			r.forget(ev)
		})
	})
}

// activateTimers runs every Timeout/Periodic event whose deadline has
// elapsed by the last sync time point, in non-decreasing deadline order
// (spec.md section 8 property 5). Popping the due timers off the heap
// stays on the owner goroutine, but each handler itself runs on the
// worker pool (spec.md section 4.2/§5); rescheduling a Periodic event or
// forgetting a spent one is serialized back onto the owner through the
// promise queue since it touches the timer heap.
func (r *Reactor) activateTimers() {
	for {
		r.mu.Lock()
		if len(r.timers) == 0 {
			r.mu.Unlock()
			return
		}
		next := r.timers[0]
		now := r.syncTP
		if next.deadline.After(now) {
			r.mu.Unlock()
			return
		}
		heap.Pop(&r.timers)
		r.mu.Unlock()

		r.submitWork(func() {
			sig := r.runHandler(next)

			r.enqueuePromise(func() {
				if next.kind == Periodic && sig != Remove {
					next.deadline = now.Add(next.duration)
					r.mu.Lock()
					if !next.removed {
						heap.Push(&r.timers, next)
					}
					r.mu.Unlock()
					return
				}
				r.forget(next)
			})
		})
	}
}

func (r *Reactor) forget(ev *Event) {
	r.mu.Lock()
	ev.removed = true
	delete(r.events, ev)
	r.mu.Unlock()
}

func (r *Reactor) runHandler(ev *Event) (sig Signal) {
	defer func() {
		if rec := recover(); rec != nil {
			log.New().Errorw("reactor: event handler panicked",
				"kind", ev.kind.String(), "recover", rec)
			sig = Remove
		}
	}()
	return ev.handler(ev)
}

// Close releases the epoll instance, the notifier eventfd, and stops the
// worker pool. Close must not be called while Dispatch is still running.
func (r *Reactor) Close() error {
	close(r.workers)
	r.workerWG.Wait()
	unix.Close(r.notifierFd)
	return unix.Close(r.epfd)
}
