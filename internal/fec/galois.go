package fec

// GF(64) arithmetic over the primitive polynomial x^6 + x + 1 (0x43),
// the field the medium-profile Reed-Solomon code operates in: each symbol
// is a 6-bit hexbit.
const (
	gfBits = 6
	gfSize = 1 << gfBits // 64
	gfOrd  = gfSize - 1  // 63, the multiplicative group order
	primPoly = 0x43
)

// The tables are filled by a variable initializer rather than init(), so
// package-level values derived from them (rsGenerator) see them populated.
var expTable, logTable = buildTables()

func buildTables() (exp [2 * gfOrd]byte, log [gfSize]byte) {
	x := 1
	for i := 0; i < gfOrd; i++ {
		exp[i] = byte(x)
		log[x] = byte(i)
		x <<= 1
		if x&gfSize != 0 {
			x ^= primPoly
		}
	}
	for i := gfOrd; i < 2*gfOrd; i++ {
		exp[i] = exp[i-gfOrd]
	}
	return exp, log
}

func gfAdd(a, b byte) byte {
	return a ^ b
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return expTable[int(logTable[a])+int(logTable[b])]
}

func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	if b == 0 {
		panic("fec: division by zero in GF(64)")
	}
	return expTable[(int(logTable[a])+gfOrd-int(logTable[b]))%gfOrd]
}

// gfPow raises alpha (the field's canonical generator, 2) to power.
func gfPow(power int) byte {
	p := power % gfOrd
	if p < 0 {
		p += gfOrd
	}
	return expTable[p]
}

// gfInv returns the multiplicative inverse of a (a must be non-zero).
func gfInv(a byte) byte {
	return expTable[gfOrd-int(logTable[a])]
}

// gfPowOf raises an arbitrary field element x to power (x may be 0).
func gfPowOf(x byte, power int) byte {
	if x == 0 {
		if power == 0 {
			return 1
		}
		return 0
	}
	e := (int(logTable[x]) * power) % gfOrd
	if e < 0 {
		e += gfOrd
	}
	return expTable[e]
}

// polyEval evaluates poly (highest-degree coefficient first) at x using
// Horner's method.
func polyEval(poly []byte, x byte) byte {
	y := poly[0]
	for i := 1; i < len(poly); i++ {
		y = gfAdd(gfMul(y, x), poly[i])
	}
	return y
}

// polyMul multiplies two polynomials (highest-degree coefficient first).
func polyMul(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b)-1)
	for i, av := range a {
		if av == 0 {
			continue
		}
		for j, bv := range b {
			out[i+j] = gfAdd(out[i+j], gfMul(av, bv))
		}
	}
	return out
}
