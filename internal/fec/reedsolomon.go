// Package fec implements the forward error correction used by the acoustic
// PHY: a medium-profile Reed-Solomon RS(24,12) code over GF(64) hexbit
// symbols, correcting up to 6 symbol errors per codeword, plus a CRC-16
// fallback for frames sent with ECC disabled.
package fec

import "errors"

// DataSymbols, ParitySymbols, TotalSymbols describe the RS(24,12) medium
// profile: 12 data hexbits, 12 parity hexbits, 24 total.
const (
	DataSymbols    = 12
	ParitySymbols  = 12
	TotalSymbols   = DataSymbols + ParitySymbols
	MaxCorrectable = ParitySymbols / 2 // t=6
)

// ErrUncorrectable is returned when a codeword carries more errors than the
// code can correct. Callers drop the frame.
var ErrUncorrectable = errors.New("fec: uncorrectable codeword")

// generatorPoly builds the RS generator polynomial with roots alpha^1..alpha^nsym,
// highest-degree coefficient first.
func generatorPoly(nsym int) []byte {
	g := []byte{1}
	for i := 0; i < nsym; i++ {
		g = polyMul(g, []byte{1, gfPow(i + 1)})
	}
	return g
}

var rsGenerator = generatorPoly(ParitySymbols)

// EncodeMedium systematically encodes 12 data hexbits into a 24-hexbit RS
// codeword: the first 12 symbols are the data unchanged, the last 12 are
// parity.
func EncodeMedium(data [DataSymbols]byte) [TotalSymbols]byte {
	buf := make([]byte, TotalSymbols)
	copy(buf, data[:])
	gen := rsGenerator
	for i := 0; i < DataSymbols; i++ {
		coef := buf[i]
		if coef == 0 {
			continue
		}
		for j := 1; j < len(gen); j++ {
			buf[i+j] ^= gfMul(gen[j], coef)
		}
	}
	copy(buf, data[:])
	var out [TotalSymbols]byte
	copy(out[:], buf)
	return out
}

// calcSyndromes returns a (nsym+1)-length array; index 0 is an unused
// placeholder, indices 1..nsym hold S_1..S_nsym = codeword(alpha^i).
func calcSyndromes(codeword []byte, nsym int) []byte {
	synd := make([]byte, nsym+1)
	for i := 1; i <= nsym; i++ {
		synd[i] = polyEval(codeword, gfPow(i))
	}
	return synd
}

func syndromesClean(synd []byte) bool {
	for _, s := range synd[1:] {
		if s != 0 {
			return false
		}
	}
	return true
}

// solveLocator solves the v x v linear system relating syndromes S_1..S_2v to
// the error-locator coefficients L_1..L_v (Peterson-Gorenstein-Zierler).
// Returns ok=false if the system is singular (v does not match the true
// error count).
func solveLocator(synd []byte, v int) ([]byte, bool) {
	if 2*v > len(synd)-1 {
		return nil, false
	}
	a := make([][]byte, v)
	b := make([]byte, v)
	for r := 0; r < v; r++ {
		a[r] = make([]byte, v)
		for c := 0; c < v; c++ {
			a[r][c] = synd[v+r-c]
		}
		b[r] = synd[v+1+r]
	}
	return gaussSolve(a, b)
}

// buildErrLocPoly converts solved coefficients L_1..L_v into the
// highest-degree-first polynomial Lambda(x) = 1 + L_1 x + ... + L_v x^v.
func buildErrLocPoly(lambda []byte) []byte {
	v := len(lambda)
	out := make([]byte, v+1)
	for k := 0; k < v; k++ {
		out[k] = lambda[v-1-k]
	}
	out[v] = 1
	return out
}

// chienSearch finds the roots of the error locator polynomial among the n
// candidate codeword positions, returning the error positions (0-indexed,
// 0 = highest-degree symbol).
func chienSearch(errLoc []byte, n int) []int {
	var positions []int
	for p := 0; p < n; p++ {
		i := n - 1 - p
		if polyEval(errLoc, gfPow(-i)) == 0 {
			positions = append(positions, p)
		}
	}
	return positions
}

// solveMagnitudes solves the Vandermonde system S_i = sum_k Y_k * X_k^i
// (i=1..v) for the error magnitudes Y_k at the given positions.
func solveMagnitudes(synd []byte, positions []int, n int) ([]byte, bool) {
	v := len(positions)
	x := make([]byte, v)
	for k, p := range positions {
		exp := n - 1 - p
		x[k] = gfPow(exp)
	}
	a := make([][]byte, v)
	b := make([]byte, v)
	for r := 0; r < v; r++ {
		a[r] = make([]byte, v)
		for c := 0; c < v; c++ {
			a[r][c] = gfPowOf(x[c], r+1)
		}
		b[r] = synd[r+1]
	}
	return gaussSolve(a, b)
}

// gaussSolve solves A x = b over GF(64) by Gauss-Jordan elimination with
// partial pivoting. Returns ok=false if A is singular.
func gaussSolve(a [][]byte, b []byte) ([]byte, bool) {
	n := len(b)
	m := make([][]byte, n)
	for i := range m {
		m[i] = make([]byte, n+1)
		copy(m[i], a[i])
		m[i][n] = b[i]
	}
	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if m[r][col] != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		inv := gfInv(m[col][col])
		for c := col; c <= n; c++ {
			m[col][c] = gfMul(m[col][c], inv)
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := m[r][col]
			if factor == 0 {
				continue
			}
			for c := col; c <= n; c++ {
				m[r][c] ^= gfMul(factor, m[col][c])
			}
		}
	}
	x := make([]byte, n)
	for i := 0; i < n; i++ {
		x[i] = m[i][n]
	}
	return x, true
}

// DecodeMedium corrects up to MaxCorrectable symbol errors in codeword and
// returns the 12 recovered data hexbits plus the number of errors corrected.
// It returns ErrUncorrectable if no correction hypothesis reproduces
// all-zero syndromes.
func DecodeMedium(codeword [TotalSymbols]byte) ([DataSymbols]byte, int, error) {
	cw := codeword[:]
	var out [DataSymbols]byte

	synd := calcSyndromes(cw, ParitySymbols)
	if syndromesClean(synd) {
		copy(out[:], cw[:DataSymbols])
		return out, 0, nil
	}

	for v := MaxCorrectable; v >= 1; v-- {
		lambda, ok := solveLocator(synd, v)
		if !ok {
			continue
		}
		errLoc := buildErrLocPoly(lambda)
		positions := chienSearch(errLoc, TotalSymbols)
		if len(positions) != v {
			continue
		}
		mags, ok := solveMagnitudes(synd, positions, TotalSymbols)
		if !ok {
			continue
		}
		corrected := append([]byte(nil), cw...)
		for k, p := range positions {
			corrected[p] ^= mags[k]
		}
		if !syndromesClean(calcSyndromes(corrected, ParitySymbols)) {
			continue
		}
		copy(out[:], corrected[:DataSymbols])
		return out, v, nil
	}
	return out, 0, ErrUncorrectable
}
