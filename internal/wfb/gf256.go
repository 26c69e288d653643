package wfb

// GF(256) log/exp tables over the primitive polynomial x^8+x^4+x^3+x^2+1
// (0x11d), the convention shared by the Reed-Solomon erasure coders this
// module's FEC reassembler is compatible with.
const gfPrimePoly = 0x11d

var gfExpTable [510]byte
var gfLogTable [256]byte

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExpTable[i] = byte(x)
		gfLogTable[byte(x)] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= gfPrimePoly
		}
	}
	for i := 255; i < 510; i++ {
		gfExpTable[i] = gfExpTable[i-255]
	}
}

// gfMul multiplies two GF(256) field elements.
func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExpTable[int(gfLogTable[a])+int(gfLogTable[b])]
}

// gfInverse returns the multiplicative inverse of a nonzero GF(256) element.
func gfInverse(a byte) byte {
	if a == 0 {
		panic("wfb: gf256 inverse of zero")
	}
	return gfExpTable[255-int(gfLogTable[a])]
}

// invertMatrix inverts an n x n matrix over GF(256) via Gauss-Jordan
// elimination with nonzero-pivot search. Returns false if singular.
func invertMatrix(m [][]byte) ([][]byte, bool) {
	n := len(m)
	aug := make([][]byte, n)
	for i := range aug {
		aug[i] = make([]byte, 2*n)
		copy(aug[i], m[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if aug[row][col] != 0 {
				pivot = row
				break
			}
		}
		if pivot == -1 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		inv := gfInverse(aug[col][col])
		for k := 0; k < 2*n; k++ {
			aug[col][k] = gfMul(aug[col][k], inv)
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			if factor == 0 {
				continue
			}
			for k := 0; k < 2*n; k++ {
				aug[row][k] ^= gfMul(factor, aug[col][k])
			}
		}
	}

	out := make([][]byte, n)
	for i := range out {
		out[i] = aug[i][n:]
	}
	return out, true
}
