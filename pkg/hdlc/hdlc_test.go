package hdlc

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeSubstitutions(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"plain", []byte{0x01, 0x02}, []byte{0x01, 0x02}},
		{"esc", []byte{0x7D}, []byte{0x7D, 0x5D}},
		{"flag", []byte{0x7E}, []byte{0x7D, 0x5E}},
		{"esc then flag", []byte{0x7D, 0x7E}, []byte{0x7D, 0x5D, 0x7D, 0x5E}},
		{"flag then esc", []byte{0x7E, 0x7D}, []byte{0x7D, 0x5E, 0x7D, 0x5D}},
		{"empty", []byte{}, []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, bytes.Equal(tc.want, Escape(tc.in)), "got % x", Escape(tc.in))
		})
	}
}

func TestEncodeWrapsInFlags(t *testing.T) {
	got := Encode([]byte{0x41, 0x7E, 0x42})
	assert.Equal(t, []byte{0x7E, 0x41, 0x7D, 0x5E, 0x42, 0x7E}, got)
}

func TestEncodeMatchesEscape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		p := randomPayload(rng, rng.Intn(64))
		want := append(append([]byte{Flag}, Escape(p)...), Flag)
		assert.Equal(t, want, Encode(p))
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		p := randomPayload(rng, rng.Intn(300))
		enc := Encode(p)

		require.Equal(t, Flag, enc[0])
		require.Equal(t, Flag, enc[len(enc)-1])
		assert.Equal(t, -1, bytes.IndexByte(enc[1:len(enc)-1], Flag), "unescaped flag inside frame")
		assert.True(t, bytes.Equal(p, Decode(Escape(p))), "round trip failed for % x", p)
	}
}

func TestDecodeDoesNotAlias(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	out := Decode(raw)
	out[0] = 0xFF
	assert.Equal(t, byte(0x01), raw[0])
}

func TestAppendEncodeKeepsPrefix(t *testing.T) {
	dst := []byte{0xAA}
	out := AppendEncode(dst, []byte{0x7D})
	assert.Equal(t, []byte{0xAA, 0x7E, 0x7D, 0x5D, 0x7E}, out)
	assert.LessOrEqual(t, len(out)-1, EncodedMaxLen(1))
}

// randomPayload returns n bytes biased towards the framing bytes.
func randomPayload(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		switch rng.Intn(4) {
		case 0:
			p[i] = Flag
		case 1:
			p[i] = Esc
		default:
			p[i] = byte(rng.Intn(256))
		}
	}
	return p
}
