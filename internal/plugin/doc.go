// Package plugin defines the uniform interface every hosted plugin is driven
// through, whatever format it was loaded from.
//
// A Factory instantiates a MainThread handle. Activating the MainThread
// yields a Processor, which the audio thread owns until it is dropped.
// Everything the two threads share at runtime lives here as well: audio
// buffers with a runtime borrow check, event buffers, single-slot parameter
// queues and host request flags.
//
// Thread-safety model:
//   - Factory, MainThread: control thread only
//   - Processor: owned by exactly one thread at a time (see host package)
//   - HostRequest, ParamQueue: lock-free, one writer per direction
//   - AudioBuffer, EventBuffer: audio thread only while a schedule is live
package plugin
