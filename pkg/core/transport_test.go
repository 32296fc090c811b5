package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportDefaults(t *testing.T) {
	tr := NewTransport()
	assert.NotNil(t, tr.Interfaces)
	assert.NotNil(t, tr.LocalClients)
	assert.Equal(t, DefaultHeaderMinSize, tr.HeaderMinSize)
	assert.False(t, tr.PanicOnInterfaceError)
}

func TestTransportHooksAreOptional(t *testing.T) {
	tr := NewTransport()
	assert.NotPanics(t, func() {
		tr.SharedConnectionDisappeared()
		tr.SharedConnectionReappeared()
		tr.PersistData()
		tr.Exit()
		tr.Panic()
	})
}

func TestTransportHooksInvoked(t *testing.T) {
	var disappeared, reappeared, persisted, exited, panicked int
	tr := NewTransport()
	tr.Hooks = Hooks{
		SharedConnectionDisappeared: func() { disappeared++ },
		SharedConnectionReappeared:  func() { reappeared++ },
		PersistData:                 func() { persisted++ },
		Exit:                        func() { exited++ },
		Panic:                       func() { panicked++ },
	}

	tr.SharedConnectionDisappeared()
	tr.SharedConnectionReappeared()
	tr.PersistData()
	tr.Exit()
	tr.Panic()

	assert.Equal(t, 1, disappeared)
	assert.Equal(t, 1, reappeared)
	assert.Equal(t, 1, persisted)
	assert.Equal(t, 1, exited)
	assert.Equal(t, 1, panicked)
}

func TestTransportDetachInterfaces(t *testing.T) {
	tr := NewTransport()
	a := &stubInterface{name: "a"}
	b := &stubInterface{name: "b"}
	tr.Interfaces.Append(a)
	tr.Interfaces.Append(b)

	n := tr.DetachInterfaces()

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a.detached)
	assert.Equal(t, 1, b.detached)
}

func TestOwnerFunc(t *testing.T) {
	var got []byte
	var src Interface
	stub := &stubInterface{name: "s"}
	var o Owner = OwnerFunc(func(frame []byte, s Interface) {
		got = frame
		src = s
	})

	o.Inbound([]byte("hello"), stub)

	assert.Equal(t, []byte("hello"), got)
	assert.Same(t, stub, src)
}
