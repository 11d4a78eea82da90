// Package biometric holds the face-matching decision policy: Euclidean
// distance between feature vectors and a per-probe quorum over the stored
// reference vectors.
package biometric

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/face-auth/internal/autherr"
)

// Vector is a face feature vector produced by the extractor.
type Vector []float64

// ErrNoReferenceVectors is returned when a user has nothing stored to compare against.
var ErrNoReferenceVectors = errors.New("biometric: no reference vectors")

// ErrDimensionMismatch is returned when two vectors have different lengths.
var ErrDimensionMismatch = errors.New("biometric: vector dimension mismatch")

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Decision is the outcome of a verification.
type Decision struct {
	Accepted bool
	// ProbeIndex is the probe vector that reached quorum, or -1.
	ProbeIndex int
	// Matches is the highest number of stored vectors matched by any probe.
	Matches int
	// BestDistance is the smallest distance seen across all comparisons.
	BestDistance float64
}

// Verify compares every probe vector against all stored vectors. A stored
// vector matches a probe when their distance is <= threshold; a probe is
// accepted once it has at least required matches. Probes are evaluated in
// extraction order and the first accepted probe ends the evaluation.
func Verify(stored, probes []Vector, threshold float64, required int) (Decision, error) {
	decision := Decision{ProbeIndex: -1, BestDistance: math.Inf(1)}
	if len(stored) == 0 {
		return decision, ErrNoReferenceVectors
	}
	if len(probes) == 0 {
		return decision, autherr.ErrNoFaceDetected
	}
	if required < 1 {
		required = 1
	}

	for pi, probe := range probes {
		matches := 0
		for _, ref := range stored {
			d, err := Distance(ref, probe)
			if err != nil {
				return decision, err
			}
			if d < decision.BestDistance {
				decision.BestDistance = d
			}
			if d <= threshold {
				matches++
			}
		}
		if matches > decision.Matches {
			decision.Matches = matches
		}
		if matches >= required {
			decision.Accepted = true
			decision.ProbeIndex = pi
			return decision, nil
		}
	}
	return decision, nil
}

// Verifier applies a fixed threshold and quorum.
// RequiredMatches of 1 accepts on any single stored match.
type Verifier struct {
	Threshold       float64
	RequiredMatches int
}

// NewVerifier returns a Verifier with the given policy.
func NewVerifier(threshold float64, requiredMatches int) *Verifier {
	return &Verifier{Threshold: threshold, RequiredMatches: requiredMatches}
}

// Verify runs Verify with the verifier's policy.
func (v *Verifier) Verify(stored, probes []Vector) (Decision, error) {
	return Verify(stored, probes, v.Threshold, v.RequiredMatches)
}
