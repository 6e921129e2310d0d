// Package queue provides a FIFO primitive with blocking and non-blocking
// dequeue, used for message injection and multi-turn continuation.
//
// Multiple concurrent blocked receivers are served strictly in arrival
// order. Closing the queue wakes every parked receiver with a "no more
// items" result; CancelWaiters does the same without closing, so abort
// handling never leaks a parked goroutine.
package queue
