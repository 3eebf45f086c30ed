/*Package tc720 provides an interface to TE Technology TC-720 thermoelectric
temperature controllers.

per the TC-720 manual, the controller serial interface uses the following
schema:

baud 230400, 8 data bits, no parity, 1 stop bit

command messages look like (stx)(CC)(DDDD)(SS)(etx) where CC is a two
character command, DDDD is a four character ASCII-hex value, and SS is a two
character ASCII-hex checksum, the 8 bit sum of the six preceding characters.
stx is '*' and etx is a carriage return.  Replies carry the value and its
checksum and are terminated with '^'.  Temperatures travel as hundredths of
a degree Celsius in a signed 16 bit integer.  The controller does not
buffer incoming commands; pace them so at most 20 are sent per second.
*/
package tc720

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/phaselab/thermosweep/comm"
)

const (
	stx = '*'
	ack = '^'

	// command codes, "read" returns the associated value and "write"
	// echoes the value written
	cmdReadInput1   = "01"
	cmdReadPower    = "02"
	cmdReadInput2   = "06"
	cmdSetSetpoint  = "1c"
	cmdOutputEnable = "30"

	// the proportional output value spans -511..511
	fullScaleOutput = 511
)

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        230400,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

const hexDigits = "0123456789abcdef"

func checksum(payload []byte) [2]byte {
	var accumulator uint16
	for _, b := range payload {
		accumulator += uint16(b)
	}
	accumulator &= 0x00FF
	return [2]byte{hexDigits[accumulator>>4], hexDigits[accumulator&0x0F]}
}

// frame assembles a complete command message, excluding the terminator
// which is appended by the comm layer
func frame(cmd string, value int16) []byte {
	payload := fmt.Sprintf("%s%04x", cmd, uint16(value))
	cs := checksum([]byte(payload))
	out := make([]byte, 0, 9)
	out = append(out, stx)
	out = append(out, payload...)
	out = append(out, cs[0], cs[1])
	return out
}

// unframe validates a reply with the terminator already stripped and
// returns the value it carries
func unframe(resp []byte) (int16, error) {
	if len(resp) != 7 {
		return 0, fmt.Errorf("tc720: reply was %d bytes, expected 7", len(resp))
	}
	if resp[0] != stx {
		return 0, fmt.Errorf("tc720: reply began with %q, expected %q", resp[0], stx)
	}
	value := resp[1:5]
	if string(value) == "XXXX" {
		return 0, errors.New("tc720: controller rejected the command checksum")
	}
	cs := checksum(value)
	if resp[5] != cs[0] || resp[6] != cs[1] {
		return 0, fmt.Errorf("tc720: reply checksum %s does not match computed %s", resp[5:7], cs[:])
	}
	u, err := strconv.ParseUint(string(value), 16, 16)
	if err != nil {
		return 0, errors.Wrap(err, "tc720: reply value was not hex")
	}
	return int16(u), nil
}

// encodeTemp converts a temperature in Celsius to the wire representation
func encodeTemp(t float64) int16 {
	return int16(math.Round(t * 100))
}

// decodeTemp converts a wire value to a temperature in Celsius
func decodeTemp(v int16) float64 {
	return float64(v) / 100
}

// Controller talks to a TC-720 over its serial interface.  It holds the
// port open for its lifetime; use Close when done with it.
type Controller struct {
	comm.RemoteDevice

	limiter *rate.Limiter
	idled   bool
}

// New opens a connection to the controller at addr (e.g. /dev/ttyUSB0 or
// COM3), enables the output drive, and returns a handle to it
func New(addr string) (*Controller, error) {
	c := &Controller{
		RemoteDevice: comm.NewRemoteDevice(addr, makeSerConf(addr)),
		limiter:      rate.NewLimiter(20, 1),
	}
	c.RxTerm = ack
	err := c.Open()
	if err != nil {
		return nil, errors.Wrap(err, "tc720: failed to open serial port")
	}
	err = c.setOutputEnable(true)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Controller) setOutputEnable(on bool) error {
	var v int16
	if on {
		v = 1
	}
	echo, err := c.transact(cmdOutputEnable, v)
	if err != nil {
		return errors.Wrap(err, "tc720: failed to write output enable")
	}
	if echo != v {
		return fmt.Errorf("tc720: output enable echo %d, expected %d", echo, v)
	}
	c.idled = !on
	return nil
}

func (c *Controller) transact(cmd string, value int16) (int16, error) {
	time.Sleep(c.limiter.Reserve().Delay())
	resp, err := c.SendRecv(frame(cmd, value))
	if err != nil {
		return 0, err
	}
	return unframe(resp)
}

// Temperature reads the primary sensor (input 1) in Celsius
func (c *Controller) Temperature() (float64, error) {
	v, err := c.transact(cmdReadInput1, 0)
	if err != nil {
		return 0, errors.Wrap(err, "tc720: failed to read input 1")
	}
	return decodeTemp(v), nil
}

// SecondaryTemperature reads the secondary sensor (input 2) in Celsius
func (c *Controller) SecondaryTemperature() (float64, error) {
	v, err := c.transact(cmdReadInput2, 0)
	if err != nil {
		return 0, errors.Wrap(err, "tc720: failed to read input 2")
	}
	return decodeTemp(v), nil
}

// OutputPower reads the proportional output drive as a percentage of full
// scale; negative values indicate cooling
func (c *Controller) OutputPower() (float64, error) {
	v, err := c.transact(cmdReadPower, 0)
	if err != nil {
		return 0, errors.Wrap(err, "tc720: failed to read output power")
	}
	return float64(v) / fullScaleOutput * 100, nil
}

// SetSetpoint commands the fixed desired control setting in Celsius,
// re-enabling the output drive if the controller was idled
func (c *Controller) SetSetpoint(t float64) error {
	if c.idled {
		err := c.setOutputEnable(true)
		if err != nil {
			return err
		}
	}
	want := encodeTemp(t)
	echo, err := c.transact(cmdSetSetpoint, want)
	if err != nil {
		return errors.Wrap(err, "tc720: failed to write setpoint")
	}
	if echo != want {
		return fmt.Errorf("tc720: setpoint echo %d does not match commanded %d", echo, want)
	}
	return nil
}

// Idle disables the output drive, leaving the plate to drift to ambient
func (c *Controller) Idle() error {
	return c.setOutputEnable(false)
}
