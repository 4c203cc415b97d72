// Package hostloop implements the host-side event reactor of a machine
// emulator.
//
// A [Reactor] multiplexes host file descriptors, timers, bottom halves
// (callbacks deferred to the reactor thread), signals delivered through a
// descriptor and, on Windows, native wait handles. Each call to
// [Reactor.RunIteration] performs exactly one pass:
//
//  1. registered [IOSource] collaborators and the reactor's own descriptor
//     handler table contribute to the working [FDSets], and may shorten the
//     timeout;
//  2. pending timers shorten the timeout further;
//  3. the [Adapter] merges the requests of the [gmain.Context], blocks, and
//     dispatches the generic sources that became ready;
//  4. descriptor handlers and collaborators are dispatched against the
//     observed sets;
//  5. expired timers run.
//
// # Global lock
//
// Emulation state is guarded by one global lock, shared with other
// emulation threads (virtual CPUs). The caller of RunIteration holds it. The
// adapter releases it only for the blocking call itself, and only when the
// computed timeout is non-zero, so a busy-polling caller never yields.
//
// # Threading
//
// Registration methods are for the lock holder, typically callbacks running
// on the reactor thread. [BottomHalf.Schedule] and [Reactor.Notify] are the
// only operations that are safe from any goroutine without the lock.
//
// # Adapters
//
// [DescriptorAdapter] performs a single poll(2) over every descriptor, and
// is the default on Linux and Darwin. [HybridAdapter] runs polling
// callbacks, waits on the generic sources plus the [WaitObjectTable], then
// issues one non-blocking poll over the collaborator sets. It is the default
// on Windows.
package hostloop
