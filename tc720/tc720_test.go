package tc720

import (
	"math"
	"testing"
)

func TestChecksumManualExample(t *testing.T) {
	// worked example from the manual: set 10.00C, payload 1c03e8
	cs := checksum([]byte("1c03e8"))
	if cs[0] != '9' || cs[1] != '4' {
		t.Fatalf("expected checksum to be 94, got %s", cs[:])
	}
}

func TestFrameManualExample(t *testing.T) {
	msg := frame(cmdSetSetpoint, 1000)
	if string(msg) != "*1c03e894" {
		t.Fatalf("expected framed message *1c03e894, got %s", msg)
	}
}

func TestUnframeEcho(t *testing.T) {
	v, err := unframe([]byte("*03e800"))
	if err != nil {
		t.Fatal(err)
	}
	if v != 1000 {
		t.Errorf("expected value 1000, got %d", v)
	}
}

func TestUnframeNegativeTemperature(t *testing.T) {
	// -5.00C = -500 = 0xfe0c
	v, err := unframe([]byte("*fe0c5e"))
	if err != nil {
		t.Fatal(err)
	}
	if v != -500 {
		t.Errorf("expected value -500, got %d", v)
	}
	if got := decodeTemp(v); got != -5 {
		t.Errorf("expected -5C, got %f", got)
	}
}

func TestUnframeRejectsBadChecksum(t *testing.T) {
	_, err := unframe([]byte("*03e8ff"))
	if err == nil {
		t.Error("expected a checksum mismatch to be rejected")
	}
}

func TestUnframeRejectsControllerNak(t *testing.T) {
	cs := checksum([]byte("XXXX"))
	_, err := unframe(append([]byte("*XXXX"), cs[0], cs[1]))
	if err == nil {
		t.Error("expected the controller rejection sentinel to error")
	}
}

func TestTempRoundTrip(t *testing.T) {
	for _, c := range []float64{24.3, -10, 0, 99.99} {
		if got := decodeTemp(encodeTemp(c)); math.Abs(got-c) > 0.005 {
			t.Errorf("temperature %f did not survive the wire, got %f", c, got)
		}
	}
}

func TestMockApproachesSetpoint(t *testing.T) {
	m := NewMock(20)
	m.SetSetpoint(30)
	for i := 0; i < 100; i++ {
		m.advance(1)
	}
	if math.Abs(m.temp-30) > 0.1 {
		t.Errorf("expected mock plate to settle at 30, got %f", m.temp)
	}
}

func TestMockIdleDriftsToAmbient(t *testing.T) {
	m := NewMock(20)
	m.SetSetpoint(30)
	for i := 0; i < 100; i++ {
		m.advance(1)
	}
	m.Idle()
	for i := 0; i < 2000; i++ {
		m.advance(1)
	}
	if math.Abs(m.temp-20) > 0.5 {
		t.Errorf("expected idled plate to drift back to ambient 20, got %f", m.temp)
	}
	p, _ := m.OutputPower()
	if p != 0 {
		t.Errorf("expected idled output power 0, got %f", p)
	}
}
