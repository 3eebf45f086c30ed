package keysight

import (
	"strings"
	"testing"
)

func TestParseSNPSplitsThirds(t *testing.T) {
	raw := []byte("1e9,2e9,3e9,0.5,0.4,0.3,-0.1,-0.2,-0.3")
	s, err := parseSNP(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 points, got %d", s.Len())
	}
	if s.Freq[1] != 2e9 {
		t.Errorf("expected frequency 2e9, got %g", s.Freq[1])
	}
	if s.Real[0] != 0.5 {
		t.Errorf("expected real 0.5, got %g", s.Real[0])
	}
	if s.Imag[2] != -0.3 {
		t.Errorf("expected imag -0.3, got %g", s.Imag[2])
	}
}

func TestParseSNPTrimsWhitespace(t *testing.T) {
	raw := []byte(" 1e9, 2e9, 3e9, 1, 2, 3, 4, 5, 6\n")
	s, err := parseSNP(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 points, got %d", s.Len())
	}
}

func TestParseSNPRejectsEmptyPayload(t *testing.T) {
	_, err := parseSNP([]byte("  \n"))
	if err == nil {
		t.Fatal("expected an error for an empty payload")
	}
	if !strings.Contains(err.Error(), "empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseSNPRejectsPartialPayload(t *testing.T) {
	_, err := parseSNP([]byte("1e9,2e9,3e9,0.5"))
	if err == nil {
		t.Fatal("expected an error for a payload not divisible by 3")
	}
	if !strings.Contains(err.Error(), "divisible") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseSNPRejectsGarbage(t *testing.T) {
	_, err := parseSNP([]byte("1e9,bogus,3e9"))
	if err == nil {
		t.Fatal("expected an error for an unparseable value")
	}
}

func TestMockVNAProducesResonantSweep(t *testing.T) {
	m := NewMockVNA(201)
	s, err := m.AcquireSweep()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if s.Len() != 201 {
		t.Fatalf("expected 201 points, got %d", s.Len())
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("mock sweep invalid: %v", err)
	}
	mags := s.MagnitudeDB()
	min, max := mags[0], mags[0]
	for _, m := range mags {
		if m < min {
			min = m
		}
		if m > max {
			max = m
		}
	}
	if max-min < 10 {
		t.Errorf("expected a pronounced dip, span was only %.2f dB", max-min)
	}
}
