package denoise

import "math"

// fftInPlace performs an in-place radix-2 Cooley-Tukey FFT.
// re and im must have the same power-of-2 length.
func fftInPlace(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation
	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	// Cooley-Tukey butterfly
	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := -2.0 * math.Pi / float64(size)
		wR := math.Cos(angle)
		wI := math.Sin(angle)

		for start := 0; start < n; start += size {
			tR, tI := 1.0, 0.0
			for k := 0; k < half; k++ {
				u := start + k
				v := u + half

				tmpR := tR*re[v] - tI*im[v]
				tmpI := tR*im[v] + tI*re[v]

				re[v] = re[u] - tmpR
				im[v] = im[u] - tmpI
				re[u] += tmpR
				im[u] += tmpI

				tR, tI = tR*wR-tI*wI, tR*wI+tI*wR
			}
		}
	}
}

// ifftInPlace performs the inverse FFT via conjugation.
func ifftInPlace(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}
	for i := range im {
		im[i] = -im[i]
	}
	fftInPlace(re, im)
	scale := 1.0 / float64(n)
	for i := range re {
		re[i] *= scale
		im[i] *= -scale
	}
}
