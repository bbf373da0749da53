// Package fingerprint computes the content fingerprint used to reject
// duplicate stickers.
//
// The fingerprint is a 32-bit shift-and-add accumulator (h = h*31 + b with
// signed wraparound) rendered as a decimal string. It is deterministic and
// cheap but not collision resistant: two different images can share a
// fingerprint, in which case the second one is treated as a duplicate.
package fingerprint

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Hash is a rendered fingerprint.
type Hash = string

// Sum returns the fingerprint of b.
func Sum(b []byte) Hash {
	var h int32
	for _, c := range b {
		h = step(h, c)
	}
	return strconv.Itoa(int(h))
}

// Reader returns the fingerprint of everything read from r.
func Reader(r io.Reader) (Hash, error) {
	br := bufio.NewReader(r)
	var h int32
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read content: %w", err)
		}
		h = step(h, c)
	}
	return strconv.Itoa(int(h)), nil
}

func step(h int32, c byte) int32 {
	return (h << 5) - h + int32(c)
}
