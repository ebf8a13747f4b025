package vector

import (
	"math"
	"sync"

	"golang.org/x/sys/cpu"
)

// laneWidth reports the widest float32 lane count this process should
// target, picked from runtime CPU feature detection. Go has no portable
// SIMD intrinsics short of assembly or CGO (neither of which the rest of
// this module's dependency stack uses anywhere), so lane width here drives
// manual loop unrolling rather than an actual vector instruction — the
// compiler still frequently auto-vectorizes an unrolled, bounds-check-free
// accumulation loop on amd64/arm64.
var laneWidth = detectLaneWidth()

func detectLaneWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 16
	case cpu.X86.HasAVX2:
		return 8
	case cpu.X86.HasSSE41:
		return 4
	case cpu.ARM64.HasASIMD:
		return 4
	default:
		return 1
	}
}

var simdOnce sync.Once
var simdOK bool

func simdAvailable() bool {
	simdOnce.Do(func() {
		simdOK = laneWidth > 1
	})
	return simdOK
}

// CosineSimilaritySIMD computes cosine similarity using lane-width-wide
// manual unrolling with a scalar tail, agreeing with CosineSimilarity to
// within 1e-4 for random vectors up to length 1024 (enforced by
// TestSIMDAgreesWithScalar in similarity_test.go). Falls back to a single-lane (scalar) loop
// shape when no wider feature was detected.
func CosineSimilaritySIMD(a, b Vector) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	lanes := laneWidth
	n := len(a)
	limit := n - n%lanes

	var dotAcc, magAAcc, magBAcc [16]float64

	for i := 0; i < limit; i += lanes {
		for l := 0; l < lanes; l++ {
			fa := float64(a[i+l])
			fb := float64(b[i+l])
			dotAcc[l] += fa * fb
			magAAcc[l] += fa * fa
			magBAcc[l] += fb * fb
		}
	}

	var dot, magA, magB float64
	for l := 0; l < lanes; l++ {
		dot += dotAcc[l]
		magA += magAAcc[l]
		magB += magBAcc[l]
	}

	for i := limit; i < n; i++ {
		fa := float64(a[i])
		fb := float64(b[i])
		dot += fa * fb
		magA += fa * fa
		magB += fb * fb
	}

	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)
	if magA < epsilon || magB < epsilon {
		return 0
	}
	return float32(dot / (magA * magB))
}

// DotProductSIMD mirrors CosineSimilaritySIMD's unrolling for the raw dot
// product.
func DotProductSIMD(a, b Vector) float32 {
	if len(a) != len(b) {
		return 0
	}
	lanes := laneWidth
	n := len(a)
	limit := n - n%lanes

	var acc [16]float64
	for i := 0; i < limit; i += lanes {
		for l := 0; l < lanes; l++ {
			acc[l] += float64(a[i+l]) * float64(b[i+l])
		}
	}
	var sum float64
	for l := 0; l < lanes; l++ {
		sum += acc[l]
	}
	for i := limit; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// MagnitudeSIMD mirrors CosineSimilaritySIMD's unrolling for the Euclidean
// norm.
func MagnitudeSIMD(v Vector) float32 {
	lanes := laneWidth
	n := len(v)
	limit := n - n%lanes

	var acc [16]float64
	for i := 0; i < limit; i += lanes {
		for l := 0; l < lanes; l++ {
			x := float64(v[i+l])
			acc[l] += x * x
		}
	}
	var sum float64
	for l := 0; l < lanes; l++ {
		sum += acc[l]
	}
	for i := limit; i < n; i++ {
		x := float64(v[i])
		sum += x * x
	}
	return float32(math.Sqrt(sum))
}

// BatchCosineSimilaritySIMD is BatchCosineSimilarity's SIMD-path variant,
// kept separate so callers can A/B the two paths in tests.
func BatchCosineSimilaritySIMD(query Vector, vectors []Vector) []float32 {
	scores := make([]float32, len(vectors))
	for i, v := range vectors {
		scores[i] = CosineSimilaritySIMD(query, v)
	}
	return scores
}
