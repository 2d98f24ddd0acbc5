package leb128

import (
	"bytes"
	"testing"
)

func TestDecodeUnsigned(t *testing.T) {
	leb128 := bytes.NewBuffer([]byte{0xE5, 0x8E, 0x26})

	n, c := DecodeUnsigned(leb128)
	if n != 624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}

	if c != 3 {
		t.Fatal("Count not returned correctly")
	}
}

func TestDecodeSigned(t *testing.T) {
	sleb128 := bytes.NewBuffer([]byte{0x9b, 0xf1, 0x59})

	n, c := DecodeSigned(sleb128)
	if n != -624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}
}

func TestDecodeTruncated(t *testing.T) {
	// continuation bit set on the last available byte
	n, c := DecodeUnsigned(bytes.NewReader([]byte{0xff, 0x81}))
	if c != 2 {
		t.Errorf("length: got %d want 2", c)
	}
	if n != 0xff {
		t.Errorf("value: got %#x want 0xff", n)
	}

	n2, c2 := DecodeSigned(bytes.NewReader(nil))
	if n2 != 0 || c2 != 0 {
		t.Errorf("empty input: got %d, %d", n2, c2)
	}
}
