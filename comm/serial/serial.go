package serial

import (
	"errors"
	"fmt"
	"go.bug.st/serial"
	"io"
	"time"
)

// Port is an open byte stream to a device.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

var ErrConnection = errors.New("connection error")

// ConnectionError wraps a failure to open, write or read a port.
type ConnectionError struct {
	Port string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s failed", e.Op, e.Port)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

func (e *ConnectionError) Unwrap() error { return e.Err }

func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}

// OpenPort opens an 8N1 port with a 500 ms read timeout.
func OpenPort(port string, baud int) (Port, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	err = p.SetReadTimeout(time.Duration(500) * time.Millisecond)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}
