// Package policy implements a reference-only forward-pass convolutional
// head over the RL environment's observation tensor. It is explicitly
// not a training implementation: training, hyperparameter search and
// persistence formats are out of scope (spec.md §9's Non-goals) — this
// package only evaluates a set of already-chosen weights against an
// observation, the way a loaded model would be evaluated at inference
// time.
package policy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/evacsim/envelope"
)

// NumActions is the RL environment's action-space size (spec.md §4.5:
// eight compass directions).
const NumActions = 8

// NumChannels is the RL environment's observation channel count
// (agent density, wall mask, hazard intensity, exit mask).
const NumChannels = 4

// Policy is a single 3x3 depthwise convolution per observation channel,
// pooled to one scalar feature per channel, followed by a dense layer
// to NumActions logits. This mirrors the teacher's feedforward brain in
// spirit (fixed architecture, externally supplied weights, no training
// machinery in this package) but swaps the teacher's hand-rolled matrix
// loops for gonum/mat's Dense for the dense layer's matrix-vector
// product.
type Policy struct {
	kernels [NumChannels][3][3]float64
	dense   *mat.Dense    // NumActions x NumChannels
	bias    *mat.VecDense // NumActions
}

// NewPolicy builds a Policy from persisted weights. denseWeights must
// have exactly NumActions*NumChannels entries in row-major [action][channel]
// order, and bias exactly NumActions entries.
func NewPolicy(kernels [NumChannels][3][3]float64, denseWeights, bias []float64) (*Policy, error) {
	if len(denseWeights) != NumActions*NumChannels {
		return nil, fmt.Errorf("policy: dense weights must have %d entries, got %d", NumActions*NumChannels, len(denseWeights))
	}
	if len(bias) != NumActions {
		return nil, fmt.Errorf("policy: bias must have %d entries, got %d", NumActions, len(bias))
	}
	return &Policy{
		kernels: kernels,
		dense:   mat.NewDense(NumActions, NumChannels, append([]float64(nil), denseWeights...)),
		bias:    mat.NewVecDense(NumActions, append([]float64(nil), bias...)),
	}, nil
}

// NewIdentityPolicy builds a Policy with kernels that simply average each
// channel's 3x3 neighborhood and an all-zero dense layer and bias, so every
// action's logit is 0 whatever the observation; for use as a deterministic
// baseline in tests and as a starting point before any weights have been
// fit.
func NewIdentityPolicy() *Policy {
	var kernels [NumChannels][3][3]float64
	for c := range kernels {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				kernels[c][i][j] = 1.0 / 9.0
			}
		}
	}
	dense := make([]float64, NumActions*NumChannels)
	bias := make([]float64, NumActions)
	p, _ := NewPolicy(kernels, dense, bias)
	return p
}

// Forward convolves each observation channel's 3x3 neighborhood around
// (gx, gy) with that channel's kernel, pools the result to a single
// scalar per channel, and runs the pooled feature vector through the
// dense layer. Out-of-bounds neighbors are treated as zero.
func (p *Policy) Forward(obs envelope.Tensor, gx, gy int) []float64 {
	n := obs.Shape[1]
	features := mat.NewVecDense(NumChannels, nil)
	for c := 0; c < NumChannels; c++ {
		var sum float64
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				ny, nx := gy+dy, gx+dx
				if ny < 0 || ny >= n || nx < 0 || nx >= n {
					continue
				}
				sum += p.kernels[c][dy+1][dx+1] * obs.At(c, ny, nx)
			}
		}
		features.SetVec(c, sum)
	}

	logits := mat.NewVecDense(NumActions, nil)
	logits.MulVec(p.dense, features)
	out := make([]float64, NumActions)
	for i := 0; i < NumActions; i++ {
		out[i] = logits.AtVec(i) + p.bias.AtVec(i)
	}
	return out
}

// Softmax converts logits to a probability distribution over actions.
func Softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		out[i] = e
		sum += e
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// SelectAction returns the index of the largest logit.
func SelectAction(logits []float64) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}
