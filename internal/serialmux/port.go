package serialmux

import "io"

// SerialPorter is the part of a serial port the monitor uses. go.bug.st/serial
// ports satisfy it, as does FakePort.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortOpener opens the port at path with the given options. Sources take
// one so tests can hand back a FakePort.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
