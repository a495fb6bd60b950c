// Package executor provides the task scheduling resource that the accept
// loop and every connection task run on.
//
// A Pool bounds parallelism through GOMAXPROCS rather than a fixed set of
// worker goroutines: connection tasks are long lived and block on I/O, so
// each task gets its own goroutine and the Go scheduler multiplexes them
// onto the configured number of OS threads.
//
// Tasks receive the pool context, which is cancelled by Shutdown. A task
// that panics is recovered, logged and counted; it never takes the pool
// or other tasks down with it.
package executor
