// Package keysight provides access to their Streamline series vector
// network analyzers in Go
package keysight

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/phaselab/thermosweep/comm"
	"github.com/phaselab/thermosweep/scpi"
	"github.com/phaselab/thermosweep/sparam"
)

// transfers of a full trace can run long on slow LAN segments
var jumboFrameSize = 9000

const acquireTimeout = 30 * time.Second

// VNA is an interface to a Keysight P-series network analyzer.
// The zero value is not usable, see NewVNA.
type VNA struct {
	scpi.SCPI
}

// NewVNA creates a new VNA instance communicating over TCP socket SCPI,
// usually port 5025
func NewVNA(addr string) *VNA {
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return &VNA{scpi.SCPI{Pool: pool, Handshaking: true}}
}

// Identification returns the *IDN? response from the instrument
func (v *VNA) Identification() (string, error) {
	return v.ReadString("*IDN?")
}

// SetPoints configures the number of points per sweep
func (v *VNA) SetPoints(n int) error {
	return v.Write(fmt.Sprintf("SENSe1:SWEep:POINts %d", n))
}

// GetPoints returns the number of points per sweep
func (v *VNA) GetPoints() (int, error) {
	return v.ReadInt("SENSe1:SWEep:POINts?")
}

// SetContinuous turns free-running sweep triggering on or off
func (v *VNA) SetContinuous(on bool) error {
	mnemonic := "0"
	if on {
		mnemonic = "1"
	}
	return v.Write("INITiate1:CONTinuous", mnemonic)
}

// SetDataFormatASCII puts the instrument in ASCII transfer mode, which
// is slower than binary blocks but insensitive to byte order
func (v *VNA) SetDataFormatASCII() error {
	return v.Write("FORMat:DATA ASCii,0")
}

// Setup places the analyzer in the configuration used for monitoring,
// n points per sweep with continuous triggering and ASCII transfers
func (v *VNA) Setup(points int) error {
	err := v.SetPoints(points)
	if err != nil {
		return err
	}
	err = v.SetContinuous(true)
	if err != nil {
		return err
	}
	return v.SetDataFormatASCII()
}

// AcquireSweep retrieves the most recent S11 acquisition from the analyzer
func (v *VNA) AcquireSweep() (sparam.Sweep, error) {
	raw, err := v.fetchSNP()
	if err != nil {
		return sparam.Sweep{}, errors.Wrap(err, "keysight: SNP transfer failed")
	}
	return parseSNP(raw)
}

// fetchSNP streams the single-port SNP payload.  The reply is comma
// separated ASCII terminated by a newline, with no length prefix, so
// we read until the terminator shows up
func (v *VNA) fetchSNP() ([]byte, error) {
	conn, err := v.Pool.Get()
	defer func() { v.Pool.ReturnWithError(conn, err) }()
	if err != nil {
		return nil, err
	}
	rw, err := comm.NewTimeout(conn, acquireTimeout)
	if err != nil {
		return nil, err
	}
	_, err = rw.Write([]byte("CALCulate1:DATA:SNP? 1\n"))
	if err != nil {
		return nil, err
	}
	var data []byte
	buf := make([]byte, jumboFrameSize)
	for {
		var n int
		n, err = rw.Read(buf)
		if err != nil {
			return nil, err
		}
		data = append(data, buf[:n]...)
		if n > 0 && data[len(data)-1] == '\n' {
			break
		}
	}
	return data[:len(data)-1], nil
}

// parseSNP splits a one-port SNP payload into a sweep.  The payload is
// the concatenation of three equal-length blocks, frequency in Hz
// followed by the real then imaginary parts of S11
func parseSNP(raw []byte) (sparam.Sweep, error) {
	var s sparam.Sweep
	str := strings.TrimSpace(string(raw))
	if str == "" {
		return s, errors.New("keysight: empty SNP payload")
	}
	fields := strings.Split(str, ",")
	if len(fields)%3 != 0 {
		return s, errors.Errorf("keysight: SNP payload of %d values is not divisible by 3", len(fields))
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return s, errors.Wrapf(err, "keysight: SNP value %d unparseable", i)
		}
		values[i] = v
	}
	third := len(values) / 3
	s.Freq = values[:third]
	s.Real = values[third : 2*third]
	s.Imag = values[2*third:]
	return s, s.Validate()
}
