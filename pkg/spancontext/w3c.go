package spancontext

// W3C traceparent wire format:
//
//	00-{32 hex trace id}-{16 hex span id}-{2 hex flags}
//
// 55 ASCII bytes total. The version field is always the literal "00".
// Field offsets are fixed: trace id hex at 3, span id hex at 36, flags hex
// at 53.

const (
	// EncodedLength is the exact length of an encoded traceparent value.
	EncodedLength = 55

	traceIDHexOffset = 3
	spanIDHexOffset  = 36
	flagsHexOffset   = 53
)

const hexDigits = "0123456789abcdef"

// EncodeW3C encodes sc as a 55-byte traceparent value.
func EncodeW3C(sc SpanContext) string {
	var buf [EncodedLength]byte
	buf[0], buf[1], buf[2] = '0', '0', '-'
	hexEncode(buf[traceIDHexOffset:], sc.TraceID[:])
	buf[35] = '-'
	hexEncode(buf[spanIDHexOffset:], sc.SpanID[:])
	buf[52] = '-'
	hexEncode(buf[flagsHexOffset:], []byte{sc.TraceFlags})
	return string(buf[:])
}

// DecodeW3C parses a traceparent value at the fixed field offsets. It does
// not validate the version field, the separators, or the hex digits; a
// malformed 55-byte input decodes to garbage rather than an error. Inputs
// shorter than 55 bytes decode to the zero sentinel. Callers that receive
// untrusted values must length-gate them first (the propagation codec does).
func DecodeW3C(s string) SpanContext {
	if len(s) < EncodedLength {
		return SpanContext{}
	}
	var sc SpanContext
	hexDecode(sc.TraceID[:], s[traceIDHexOffset:traceIDHexOffset+2*TraceIDSize])
	hexDecode(sc.SpanID[:], s[spanIDHexOffset:spanIDHexOffset+2*SpanIDSize])
	var flags [1]byte
	hexDecode(flags[:], s[flagsHexOffset:flagsHexOffset+2])
	sc.TraceFlags = flags[0]
	return sc
}

func hexEncode(dst []byte, src []byte) {
	for i, b := range src {
		dst[2*i] = hexDigits[b>>4]
		dst[2*i+1] = hexDigits[b&0x0f]
	}
}

// hexDecode fills dst from 2*len(dst) hex characters, accepting both upper
// and lower case. The nibble formula is not range checked.
func hexDecode(dst []byte, src string) {
	for i := range dst {
		dst[i] = decodeNibble(src[2*i])<<4 | decodeNibble(src[2*i+1])
	}
}

func decodeNibble(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}
