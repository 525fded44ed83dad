package conditioning

import (
	"errors"
	"math"
)

// errDegenerateFit signals that the least-squares normal equations could
// not be solved for the requested window and order.
var errDegenerateFit = errors.New("degenerate polynomial fit")

// savitzkyGolay smooths y with a local least-squares polynomial of the
// given degree over a sliding window. window must be odd, at least
// degree+2, and no longer than y. Interior points use the precomputed
// center-evaluation weights; the leading and trailing half-windows are
// filled by evaluating the polynomials fitted to the first and last full
// windows at their in-window positions.
func savitzkyGolay(y []float64, window, degree int) ([]float64, error) {
	n := len(y)
	half := window / 2

	weights, err := centerWeights(window, degree)
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	for i := half; i < n-half; i++ {
		var acc float64
		for j := 0; j < window; j++ {
			acc += weights[j] * y[i-half+j]
		}
		out[i] = acc
	}

	head, err := fitPolynomial(y[:window], degree)
	if err != nil {
		return nil, err
	}
	for i := 0; i < half; i++ {
		out[i] = evalPolynomial(head, float64(i))
	}

	tail, err := fitPolynomial(y[n-window:], degree)
	if err != nil {
		return nil, err
	}
	for i := n - half; i < n; i++ {
		out[i] = evalPolynomial(tail, float64(i-(n-window)))
	}

	return out, nil
}

// centerWeights returns the convolution weights that evaluate the window's
// least-squares polynomial at its center sample.
func centerWeights(window, degree int) ([]float64, error) {
	half := window / 2
	terms := degree + 1

	// powerSums[p] = sum over the window of z^p, z = offset from center.
	powerSums := make([]float64, 2*degree+1)
	for j := 0; j < window; j++ {
		z := float64(j - half)
		p := 1.0
		for k := 0; k <= 2*degree; k++ {
			powerSums[k] += p
			p *= z
		}
	}

	normal := make([][]float64, terms)
	for k := range normal {
		normal[k] = make([]float64, terms)
		for l := 0; l < terms; l++ {
			normal[k][l] = powerSums[k+l]
		}
	}

	// Solving against e0 yields the row of the inverse that produces the
	// constant coefficient, which is the fitted value at z=0.
	rhs := make([]float64, terms)
	rhs[0] = 1

	g, err := solveLinearSystem(normal, rhs)
	if err != nil {
		return nil, err
	}

	weights := make([]float64, window)
	for j := 0; j < window; j++ {
		weights[j] = evalPolynomial(g, float64(j-half))
	}
	return weights, nil
}

// fitPolynomial fits a least-squares polynomial of the given degree to y
// sampled at x = 0..len(y)-1 and returns its coefficients, constant term
// first.
func fitPolynomial(y []float64, degree int) ([]float64, error) {
	terms := degree + 1

	powerSums := make([]float64, 2*degree+1)
	rhs := make([]float64, terms)
	for i, v := range y {
		x := float64(i)
		p := 1.0
		for k := 0; k <= 2*degree; k++ {
			powerSums[k] += p
			if k < terms {
				rhs[k] += p * v
			}
			p *= x
		}
	}

	normal := make([][]float64, terms)
	for k := range normal {
		normal[k] = make([]float64, terms)
		for l := 0; l < terms; l++ {
			normal[k][l] = powerSums[k+l]
		}
	}

	return solveLinearSystem(normal, rhs)
}

// evalPolynomial evaluates coefficients (constant term first) at x.
func evalPolynomial(coeffs []float64, x float64) float64 {
	var v float64
	for i := len(coeffs) - 1; i >= 0; i-- {
		v = v*x + coeffs[i]
	}
	return v
}

// solveLinearSystem solves a·x = b by Gaussian elimination with partial
// pivoting. The inputs are overwritten.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-10 {
			return nil, errDegenerateFit
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		v := b[row]
		for k := row + 1; k < n; k++ {
			v -= a[row][k] * x[k]
		}
		x[row] = v / a[row][row]
	}
	return x, nil
}
