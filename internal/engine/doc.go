// Package engine implements the control-thread orchestrator of the host.
//
// The embedding application creates an Engine, activates it to obtain a
// schedule.Runner for its audio thread, and then drives everything else
// from one goroutine:
//
//	e, next, _ := engine.New(hostInfo, settings, builtin.Factories())
//	info, runner, err := e.ActivateEngine(engine.Activation{})
//	// hand runner to the audio callback
//	for {
//		time.Sleep(time.Until(next))
//		var events []ir.Event
//		events, next = e.OnTimer()
//		// surface events
//	}
//
// ARCHITECTURE:
//
// Single control thread:
// Every mutation of the graph, the plugin hosts and the timer wheel happens
// on the goroutine that calls the Engine's methods. The only state shared
// with the audio thread is the single-slot schedule mailbox, per-plugin
// lock-free queues and request flags, and the transport's atomic requests.
//
// Timer wheel:
// OnTimer pops every expired key. The main idle key polls all plugin hosts
// and recompiles when one of them asked for it; the garbage-collect key
// frees resources retired by the audio thread; plugin keys fire timers
// plugins registered through their host.
//
// CRITICAL PATTERNS:
//
// Log and continue:
// Bad items of a ModifyGraphRequest are reported in the result and logged
// but never abort the batch.
//
// Crash teardown:
// A failed compile leaves no half-built schedule running. The engine
// removes every plugin, publishes an empty schedule and reports an
// EngineDeactivated event with Crashed set.
package engine
