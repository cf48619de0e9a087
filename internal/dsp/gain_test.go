package dsp

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
)

func TestClampSampleSaturates(t *testing.T) {
	t.Parallel()

	cases := map[float64]int16{
		0:        0,
		2.5:      3,
		-2.5:     -3,
		32767:    32767,
		40000:    32767,
		-32768:   -32768,
		-81920.0: -32768,
		math.NaN(): 0,
	}
	for in, want := range cases {
		if got := ClampSample(in); got != want {
			t.Fatalf("ClampSample(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestApplyGainMatchesRoundedProductInRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	in := make([]int16, 256)
	for i := range in {
		in[i] = int16(rng.Intn(2*13106+1) - 13106)
	}
	in[0], in[1] = 1, -1

	inBytes := encode(in)
	out := make([]byte, len(inBytes))
	if !ApplyGain(out, inBytes, 2.5) {
		t.Fatalf("expected ok")
	}

	got := decode(out)
	if len(got) != len(in) {
		t.Fatalf("length changed: %d != %d", len(got), len(in))
	}
	for i, sample := range in {
		want := int16(math.Round(float64(sample) * 2.5))
		if got[i] != want {
			t.Fatalf("sample %d: got %d want %d", i, got[i], want)
		}
	}
}

func TestApplyGainClampsInsteadOfWrapping(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 20; round++ {
		in := make([]int16, 128)
		for i := range in {
			in[i] = int16(rng.Intn(65536) - 32768)
		}
		in[0], in[1] = math.MaxInt16, math.MinInt16

		out := make([]byte, len(in)*2)
		ApplyGain(out, encode(in), 2.5)
		got := decode(out)

		if got[0] != math.MaxInt16 || got[1] != math.MinInt16 {
			t.Fatalf("extremes not clamped: %d %d", got[0], got[1])
		}
		for i, sample := range in {
			product := float64(sample) * 2.5
			if product > 0 && got[i] < 0 || product < 0 && got[i] > 0 {
				t.Fatalf("sample %d wrapped: in=%d out=%d", i, sample, got[i])
			}
		}
	}
}

func TestApplyGainPassesThroughMalformedBuffers(t *testing.T) {
	t.Parallel()

	in := []byte{1, 0, 2}
	out := make([]byte, 3)
	if ApplyGain(out, in, 2.5) {
		t.Fatalf("expected fault on odd length")
	}
	if string(out) != string(in) {
		t.Fatalf("expected passthrough, got %v", out)
	}

	short := make([]byte, 2)
	if ApplyGain(short, []byte{4, 0, 5, 0}, 2.5) {
		t.Fatalf("expected fault on length mismatch")
	}
	if short[0] != 4 || short[1] != 0 {
		t.Fatalf("expected passthrough prefix, got %v", short)
	}
}

func TestApplyGainDoesNotAllocate(t *testing.T) {
	in := encode(make([]int16, 128))
	out := make([]byte, len(in))
	allocs := testing.AllocsPerRun(100, func() {
		ApplyGain(out, in, 2.5)
	})
	if allocs != 0 {
		t.Fatalf("expected zero allocations, got %v", allocs)
	}
}

func TestApplyGainSamples(t *testing.T) {
	t.Parallel()

	out := make([]int16, 3)
	if !ApplyGainSamples(out, []int16{100, -100, 20000}, 2.5) {
		t.Fatalf("expected ok")
	}
	if out[0] != 250 || out[1] != -250 || out[2] != math.MaxInt16 {
		t.Fatalf("unexpected output: %v", out)
	}
}

func encode(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func decode(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}
