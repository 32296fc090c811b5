// Package hdlc implements the HDLC-like byte stuffing used to frame packets
// on stream sockets.
//
// A frame on the wire is Flag, escaped payload, Flag. Inside the payload
// every Esc byte becomes Esc, Esc^EscMask and every Flag byte becomes
// Esc, Flag^EscMask, so the Flag byte never appears between two delimiters.
package hdlc

import "bytes"

// Framing bytes
const (
	Flag    byte = 0x7E
	Esc     byte = 0x7D
	EscMask byte = 0x20
)

var (
	escRaw      = []byte{Esc}
	flagRaw     = []byte{Flag}
	escEscaped  = []byte{Esc, Esc ^ EscMask}
	flagEscaped = []byte{Esc, Flag ^ EscMask}
)

// Escape stuffs Esc and Flag bytes in data. Esc is replaced first so the
// escape bytes introduced for Flag are not escaped again.
func Escape(data []byte) []byte {
	out := bytes.ReplaceAll(data, escRaw, escEscaped)
	return bytes.ReplaceAll(out, flagRaw, flagEscaped)
}

// Encode returns data escaped and wrapped in Flag delimiters.
func Encode(data []byte) []byte {
	return AppendEncode(make([]byte, 0, EncodedMaxLen(len(data))), data)
}

// AppendEncode appends the encoded form of data to dst and returns the
// extended slice.
func AppendEncode(dst, data []byte) []byte {
	dst = append(dst, Flag)
	for _, b := range data {
		switch b {
		case Esc:
			dst = append(dst, Esc, Esc^EscMask)
		case Flag:
			dst = append(dst, Esc, Flag^EscMask)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, Flag)
}

// EncodedMaxLen returns the worst-case encoded length of an n byte payload.
func EncodedMaxLen(n int) int { return 2*n + 2 }

// Decode reverses Escape on the bytes found between two delimiters. The
// escaped Flag pair is resolved before the escaped Esc pair, which makes
// Decode(Escape(p)) == p for every p. The result never aliases data.
func Decode(data []byte) []byte {
	out := bytes.ReplaceAll(data, flagEscaped, flagRaw)
	return bytes.ReplaceAll(out, escEscaped, escRaw)
}
