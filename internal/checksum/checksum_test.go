package checksum

import "testing"

func TestSumEmpty(t *testing.T) {
	if got := Sum(nil); got != Initial {
		t.Fatalf("Sum(nil) = 0x%02x, want 0x%02x", got, Initial)
	}
	if got := Sum([]byte{}); got != Initial {
		t.Fatalf("Sum([]) = 0x%02x, want 0x%02x", got, Initial)
	}
}

func TestSumCheckValue(t *testing.T) {
	if got := Sum([]byte("123456789")); got != Params.Check {
		t.Fatalf("Sum(123456789) = 0x%02x, want 0x%02x", got, Params.Check)
	}
}

func TestSumKnownBytes(t *testing.T) {
	// poly 0x07, init 0: a single byte maps to its table entry.
	cases := []struct {
		in   []byte
		want uint8
	}{
		{[]byte{0x00}, 0x00},
		{[]byte{0x01}, 0x07},
		{[]byte{0x80}, 0x89},
		{[]byte{0x00, 0x00}, 0x00},
	}
	for _, c := range cases {
		if got := Sum(c.in); got != c.want {
			t.Errorf("Sum(% x) = 0x%02x, want 0x%02x", c.in, got, c.want)
		}
	}
}

func TestSumDeterministic(t *testing.T) {
	in := []byte("AMXON")
	first := Sum(in)
	for i := 0; i < 10; i++ {
		if got := Sum(in); got != first {
			t.Fatalf("Sum changed between calls: 0x%02x != 0x%02x", got, first)
		}
	}
}

func TestSumSingleBitFlip(t *testing.T) {
	in := []byte("AMXSTROBE")
	base := Sum(in)
	for i := range in {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), in...)
			flipped[i] ^= 1 << bit
			if Sum(flipped) == base {
				t.Fatalf("flipping bit %d of byte %d did not change the checksum", bit, i)
			}
		}
	}
}
