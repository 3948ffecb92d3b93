package roots

import "sync"

// world is the stop-the-world gate. Peer goroutines cannot be
// suspended the way OS threads can, so mutators cooperate instead:
// allocation paths pass through checkpoint(), which blocks while a
// collector holds the gate. This is the checkpoint-based substitute
// for a thread-suspend primitive.
type world struct {
	gate sync.RWMutex
}

func (w *world) stop() {
	w.gate.Lock()
}

func (w *world) start() {
	w.gate.Unlock()
}

func (w *world) checkpoint() {
	w.gate.RLock()
	w.gate.RUnlock()
}
