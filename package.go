// Package co provides a cooperative coroutine runtime for network
// I/O. User code suspends on socket operations while a per-worker
// event loop multiplexes many such suspensions onto one OS thread,
// so blocking-style code drives non-blocking sockets.
//
// Key components:
//
//   - Scheduler: one event loop per worker. Each worker owns a ready
//     queue, a timer heap, an edge-triggered poller, and a list of
//     cleanup callbacks that run when the loop exits. Go spawns a
//     coroutine on the next worker; Sleep suspends the running
//     coroutine for a duration.
//
//   - IoEvent: binds a (fd, direction) pair to the worker's poller.
//     Wait suspends the running coroutine until the fd becomes ready
//     or a deadline elapses.
//
//   - Socket façade: Accept, Connect, Recv, Recvn, Send, Recvfrom,
//     Sendto, Close and Shutdown with blocking-like semantics over
//     non-blocking fds. Timeouts surface as -1 with errno ETIMEDOUT.
//
//   - Synchronization primitives: Event (sticky broadcast signal),
//     Mutex (FIFO hand-off lock), Pool (per-worker free-list),
//     WaitGroup, ErrGroup and SingleFlight. Waiters may be resumed
//     from any worker or plain OS thread.
//
// The TLS adapter in the co/ssl subpackage drives blocking-style
// handshakes and I/O over the same suspension protocol.
package co
