// Package checksum computes the one-byte trailer appended to every frame
// written to the peer.
package checksum

import "github.com/sigurn/crc8"

// Params is the CRC-8 variant the peer firmware verifies: polynomial 0x07,
// initial value 0x00, no reflection, no final XOR.
var Params = crc8.Params{
	Poly:   0x07,
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xF4,
	Name:   "CRC-8",
}

// Initial is the value Sum returns for an empty input.
const Initial uint8 = 0x00

var table = crc8.MakeTable(Params)

// Sum returns the CRC-8 of p.
func Sum(p []byte) uint8 {
	return crc8.Checksum(p, table)
}
