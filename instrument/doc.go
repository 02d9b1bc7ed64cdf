// Package instrument provides the collaborators that state transition
// functions call into: an asynchronous per-instrument task queue, time-bounded
// exclusive access to instrument data, blocking convenience wrappers and the
// bounded retry policy applied to lock timeouts.
//
// Transition functions enqueue work and return; completion is observed on a
// later tick by reading instrument data through a Locked accessor. Call is the
// one blocking helper and must only be used where stalling the caller is
// acceptable.
package instrument
