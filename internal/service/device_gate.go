// internal/service/device_gate.go
package service

import "sync"

// DeviceGate arbitrates the attached keyboards between ad hoc operations and
// update sessions. Ad hoc operations run one at a time and are refused while a
// session holds the gate. A session waits for the running operation to finish.
type DeviceGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	session bool
	busy    bool
}

// NewDeviceGate creates an open gate
func NewDeviceGate() *DeviceGate {
	g := &DeviceGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Enter reserves the keyboards for one short operation. The returned func
// releases them. ErrKeyboardBusy is returned while a session holds the gate.
func (g *DeviceGate) Enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.busy && !g.session {
		g.cond.Wait()
	}
	if g.session {
		return nil, ErrKeyboardBusy
	}
	g.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.busy = false
			g.cond.Broadcast()
			g.mu.Unlock()
		})
	}, nil
}

// BeginSession takes the gate for an update session, waiting for a running
// operation to finish. ErrUpdateInProgress is returned if a session holds it.
func (g *DeviceGate) BeginSession() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session {
		return ErrUpdateInProgress
	}
	g.session = true
	for g.busy {
		g.cond.Wait()
	}
	return nil
}

// EndSession reopens the gate
func (g *DeviceGate) EndSession() {
	g.mu.Lock()
	g.session = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// InSession reports whether a session holds the gate
func (g *DeviceGate) InSession() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}
