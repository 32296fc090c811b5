package core

// DefaultHeaderMinSize is the smallest frame the transport layer accepts.
// Frames of this length or shorter are dropped by the deframer.
const DefaultHeaderMinSize = 19

// Hooks are notifications the interfaces raise towards the transport layer.
// Every hook is optional.
type Hooks struct {
	// SharedConnectionDisappeared is called when the link to the shared
	// instance is lost and a reconnect is starting.
	SharedConnectionDisappeared func()

	// SharedConnectionReappeared is called once the link to the shared
	// instance has been re-established and has had time to settle.
	SharedConnectionReappeared func()

	// PersistData is called when a spawned client leaves the shared instance.
	PersistData func()

	// Exit terminates the process. Called when the link to the shared
	// instance is permanently lost.
	Exit func()

	// Panic aborts the process after an unrecoverable interface error when
	// PanicOnInterfaceError is set.
	Panic func()
}

// Transport is the state shared between the transport layer and its
// interfaces: the interface registries, the notification hooks and the
// policy flags. It is passed explicitly to every interface.
type Transport struct {
	// Interfaces holds every active interface.
	Interfaces *Registry

	// LocalClients holds the clients spawned by a shared instance server.
	LocalClients *Registry

	Hooks Hooks

	// PanicOnInterfaceError makes a warned teardown call Hooks.Panic.
	PanicOnInterfaceError bool

	// HeaderMinSize is the minimum frame size. Frames with a length less
	// than or equal to it are discarded.
	HeaderMinSize int
}

// NewTransport creates a Transport with empty registries and the default
// minimum header size.
func NewTransport() *Transport {
	return &Transport{
		Interfaces:    NewRegistry(),
		LocalClients:  NewRegistry(),
		HeaderMinSize: DefaultHeaderMinSize,
	}
}

// SharedConnectionDisappeared invokes the disappeared hook if set.
func (t *Transport) SharedConnectionDisappeared() {
	if t.Hooks.SharedConnectionDisappeared != nil {
		t.Hooks.SharedConnectionDisappeared()
	}
}

// SharedConnectionReappeared invokes the reappeared hook if set.
func (t *Transport) SharedConnectionReappeared() {
	if t.Hooks.SharedConnectionReappeared != nil {
		t.Hooks.SharedConnectionReappeared()
	}
}

// PersistData invokes the persistence hook if set.
func (t *Transport) PersistData() {
	if t.Hooks.PersistData != nil {
		t.Hooks.PersistData()
	}
}

// Exit invokes the exit hook if set.
func (t *Transport) Exit() {
	if t.Hooks.Exit != nil {
		t.Hooks.Exit()
	}
}

// Panic invokes the panic hook if set.
func (t *Transport) Panic() {
	if t.Hooks.Panic != nil {
		t.Hooks.Panic()
	}
}

// DetachInterfaces detaches every registered interface holding a socket.
// It returns the number of interfaces detached.
func (t *Transport) DetachInterfaces() int {
	n := 0
	for _, i := range t.Interfaces.Snapshot() {
		if d, ok := i.(Detacher); ok {
			d.Detach()
			n++
		}
	}
	return n
}
