// Package frame builds outgoing command frames and decodes incoming status
// frames exchanged with the peer.
//
// Outbound wire format:
//
//	prefix bytes | command bytes | CRC-8 of the preceding bytes
//
// Inbound frames are Latin-1 text, comma separated; only the first two
// fields are used.
package frame

import (
	"strings"

	"github.com/mil-ad/mlsctl/internal/checksum"
)

// Separator splits the fields of an inbound status frame.
const Separator = ","

// Build returns prefix+command followed by a checksum byte over both.
// Length is not checked; the peer's receive buffer bounds it.
func Build(prefix, command string) []byte {
	b := make([]byte, 0, len(prefix)+len(command)+1)
	b = append(b, prefix...)
	b = append(b, command...)
	return append(b, checksum.Sum(b))
}

// Decode maps every byte of p to the rune with the same value and returns
// the first two comma separated fields. A missing second field is empty;
// fields past the second are dropped.
func Decode(p []byte) (left, right string) {
	var sb strings.Builder
	sb.Grow(len(p) + len(Separator))
	for _, c := range p {
		sb.WriteRune(rune(c))
	}
	sb.WriteString(Separator)

	fields := strings.SplitN(sb.String(), Separator, 3)
	return fields[0], fields[1]
}
