package compute

// escapeRadiusSq is |z|² at the escape threshold |z| = 2.
const escapeRadiusSq = 4.0

// Escape returns the escape iteration of c: the number of z ← z² + c updates
// applied from z = 0 before |z| > 2, capped at maxIter.
//
// The magnitude test runs before each update, so a point whose orbit sits on
// the circle |z| = 2 (c = -2) never escapes.
func Escape(c complex128, maxIter int) int {
	cr, ci := real(c), imag(c)
	var zr, zi float64
	n := 0
	for n < maxIter {
		zr2, zi2 := zr*zr, zi*zi
		if zr2+zi2 > escapeRadiusSq {
			break
		}
		zi = 2*zr*zi + ci
		zr = zr2 - zi2 + cr
		n++
	}
	return n
}
