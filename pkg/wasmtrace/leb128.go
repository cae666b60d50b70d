package wasmtrace

import "github.com/eth2030/zkwasm/pkg/zkerrors"

// byteReader is a forward-only cursor over a decode buffer, shared by every
// section reader in decode.go.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) done() bool { return r.pos >= len(r.buf) }

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, &zkerrors.WasmDecodeError{Reason: "unexpected end of input"}
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, &zkerrors.WasmDecodeError{Reason: "unexpected end of input"}
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// uleb128 reads an unsigned LEB128-encoded integer.
func (r *byteReader) uleb128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, &zkerrors.WasmDecodeError{Reason: "LEB128 overflow"}
		}
	}
}

// sleb128 reads a signed LEB128-encoded integer.
func (r *byteReader) sleb128() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// u32 reads an unsigned LEB128 integer truncated to 32 bits.
func (r *byteReader) u32() (uint32, error) {
	v, err := r.uleb128()
	return uint32(v), err
}

// name reads a length-prefixed UTF-8 string.
func (r *byteReader) name() (string, error) {
	n, err := r.uleb128()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
