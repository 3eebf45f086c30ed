/*Package comm provides connection plumbing for communication with lab hardware.

Most usages of this package will boil down to one of two shapes:

 1. embed RemoteDevice in a type that represents your hardware and
    set RxTerm and TxTerm to the right values.  You can skip this if
    both values are carriage returns (the default provided by package
    comm).  This shape fits serial devices that hold one long-lived
    connection.

 2. create a Pool with a connection maker and pass it to a command layer
    (e.g. package scpi).  This shape fits networked instruments that
    tolerate reconnection and benefit from connections being released
    while idle.

A minimal example of the first shape, for a sensor that responds to "RD?"
with the current reading and uses the default terminators:

	type MySensor struct {
		comm.RemoteDevice
	}

	func (ms *MySensor) Read() (float64, error) {
		err := ms.Open()
		if err != nil {
			return 0, err
		}
		defer ms.Close()
		resp, err := ms.SendRecv([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	terminator = byte('\r')

	// ErrNoSerialConf is generated when a serial device is opened without a serial config
	ErrNoSerialConf = errors.New("device is serial but no serial config was provided")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Sender has a Send method that passes along a byte slice as well as a
// TxTerminator returning the transmission termination byte
type Sender interface {
	Send([]byte) error
	TxTerminator() byte
}

// Recver has a Recv method that gets a byte slice as well as an
// RxTerminator returning the receipt termination byte
type Recver interface {
	Recv() ([]byte, error)
	RxTerminator() byte
}

// SendRecver can send and recieve, and provides a method that sends then recieves
type SendRecver interface {
	Sender
	Recver

	SendRecv([]byte) ([]byte, error)
}

// Opener can open ("establish a connection" but in io language)
type Opener interface {
	Open() error
}

// A Communicator can Open, Send, Recv and Close
type Communicator interface {
	io.Closer
	Opener
	SendRecver
}

/*RemoteDevice has an address and implements Communicator

a non-nil SerCfg makes the device serial; a nil one makes it TCP.
RxTerm and TxTerm override the termination bytes; zero values mean
carriage returns.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser
	SerCfg   *serial.Config
	RxTerm   byte
	TxTerm   byte
}

// NewRemoteDevice creates a new RemoteDevice instance.  serCfg may be nil,
// in which case the device communicates over TCP.
func NewRemoteDevice(addr string, serCfg *serial.Config) RemoteDevice {
	return RemoteDevice{
		Addr:     addr,
		IsSerial: serCfg != nil,
		SerCfg:   serCfg}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// exponential backoff; some devices do not like being
	// connection thrashed
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := err.Error()
			errS = strings.ToLower(errS)
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}

	// backoff will cease on a timeout so we don't wait
	// forever, so we need to check for err != nil && !wasTimeout
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", rd.Addr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		if rd.SerCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.SerCfg)
	} else {
		conn, err = TCPSetup(rd.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	if rd.TxTerm == 0 {
		return terminator
	}
	return rd.TxTerm
}

// Send writes data to the remote
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}

	b = append(b, rd.TxTerminator())
	_, err := rd.Conn.Write(b)
	return err
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	if rd.RxTerm == 0 {
		return terminator
	}
	return rd.RxTerm
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.RxTerminator()
	buf, err := bufio.NewReader(rd.Conn).ReadBytes(term)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		idx := bytes.IndexByte(buf, term)
		return buf[:idx], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if rd.Conn == nil {
		return []byte{}, ErrNotConnected
	}
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr with
// exponential backoff.  The timeout applies to each dial attempt and seeds
// the deadline of the returned connection.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      10 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// NewTimeout refreshes the read/write deadline on rw when the underlying
// connection supports deadlines.  Connections that do not (serial ports
// configure their timeout at open) pass through unchanged.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	if d, ok := rw.(deadliner); ok {
		return rw, d.SetDeadline(time.Now().Add(timeout))
	}
	return rw, nil
}

// Terminator wraps a ReadWriter, appending the transmit terminator to each
// write and trimming a trailing receive terminator from each read.
type Terminator struct {
	rw     io.ReadWriter
	rx, tx byte
}

// NewTerminator wraps rw with the given receive and transmit terminators
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, rx: rx, tx: tx}
}

// Write sends p followed by the transmit terminator
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, len(p)+1)
	copy(buf, p)
	buf[len(p)] = t.tx
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read reads into p, trimming a trailing receive terminator if present
func (t *Terminator) Read(p []byte) (int, error) {
	n, err := t.rw.Read(p)
	if err != nil {
		return n, err
	}
	if n > 0 && p[n-1] == t.rx {
		n--
	}
	return n, err
}

// SetDeadline forwards to the underlying connection when it supports
// deadlines, so a Terminator can be passed to NewTimeout
func (t *Terminator) SetDeadline(d time.Time) error {
	if c, ok := t.rw.(deadliner); ok {
		return c.SetDeadline(d)
	}
	return nil
}
