// Package utils contains small shared helpers.
package utils

import "github.com/golang/geo/r3"

// RollingMean is a fixed-window running mean over float64 samples.
type RollingMean struct {
	data   []float64
	pos    int
	filled int
}

// NewRollingMean returns a RollingMean over the last numSamples samples.
func NewRollingMean(numSamples int) *RollingMean {
	return &RollingMean{data: make([]float64, numSamples)}
}

// Window returns the window size.
func (rm *RollingMean) Window() int {
	return len(rm.data)
}

// Add inserts a sample, evicting the oldest one once the window is full.
func (rm *RollingMean) Add(x float64) {
	rm.data[rm.pos] = x
	rm.pos++
	if rm.pos >= len(rm.data) {
		rm.pos = 0
	}
	if rm.filled < len(rm.data) {
		rm.filled++
	}
}

// Mean returns the mean of the samples currently in the window. Returns 0
// before any sample was added.
func (rm *RollingMean) Mean() float64 {
	if rm.filled == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range rm.data[:rm.filled] {
		sum += d
	}
	return sum / float64(rm.filled)
}

// VectorRollingMean filters a 3-vector componentwise with three RollingMeans.
type VectorRollingMean struct {
	x, y, z *RollingMean
}

// NewVectorRollingMean returns a VectorRollingMean with the given window size.
func NewVectorRollingMean(numSamples int) *VectorRollingMean {
	return &VectorRollingMean{
		x: NewRollingMean(numSamples),
		y: NewRollingMean(numSamples),
		z: NewRollingMean(numSamples),
	}
}

// Add inserts a vector sample.
func (vm *VectorRollingMean) Add(v r3.Vector) {
	vm.x.Add(v.X)
	vm.y.Add(v.Y)
	vm.z.Add(v.Z)
}

// Mean returns the componentwise mean of the window.
func (vm *VectorRollingMean) Mean() r3.Vector {
	return r3.Vector{X: vm.x.Mean(), Y: vm.y.Mean(), Z: vm.z.Mean()}
}

// Clamp returns x limited to [min, max].
func Clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
