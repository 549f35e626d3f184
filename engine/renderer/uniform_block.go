package renderer

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// GPUUniformBlockSource is the WGSL definition of UniformBlock.
//
//go:embed assets/uniform_block.wgsl
var GPUUniformBlockSource string

// DefaultRayProgramSource is the annotated ray program the renderer builds its pipeline
// from unless WithRayProgram replaces it.
//
//go:embed assets/ray_tracing.wgsl
var DefaultRayProgramSource string

// UniformBlockSize is the byte size of the marshaled UniformBlock.
const UniformBlockSize = 288

// UniformBlock is the camera/sample block bound at SlotUniforms. Matrices are
// column-major. The projection has its y axis flipped for the ray programs.
type UniformBlock struct {
	View              [16]float32 // offset   0
	Projection        [16]float32 // offset  64
	InverseView       [16]float32 // offset 128
	InverseProjection [16]float32 // offset 192
	SamplesPerFrame   uint32      // offset 256
	TotalSamples      uint32      // offset 260
	Bounces           uint32      // offset 264
	Frame             uint32      // offset 268
	Extent            [2]uint32   // offset 272
}

// SetCamera stores view and projection and their inverses, flipping the projection's y
// axis first.
//
// Parameters:
//   - view: the column-major view matrix
//   - projection: the column-major projection matrix
func (u *UniformBlock) SetCamera(view, projection [16]float32) {
	u.View = view
	u.Projection = projection
	u.Projection[5] *= -1
	if !common.Invert4(u.InverseView[:], u.View[:]) {
		u.InverseView = common.IdentityMatrix()
	}
	if !common.Invert4(u.InverseProjection[:], u.Projection[:]) {
		u.InverseProjection = common.IdentityMatrix()
	}
}

// Advance adds one dispatch worth of samples and increments the frame counter.
func (u *UniformBlock) Advance() {
	u.TotalSamples += u.SamplesPerFrame
	u.Frame++
}

// Reset restarts accumulation.
func (u *UniformBlock) Reset() {
	u.TotalSamples = 0
}

// Marshal serializes the block for upload.
//
// Returns:
//   - []byte: UniformBlockSize little-endian bytes
func (u *UniformBlock) Marshal() []byte {
	buf := make([]byte, UniformBlockSize)
	at := 0
	for _, m := range [][16]float32{u.View, u.Projection, u.InverseView, u.InverseProjection} {
		for _, f := range m {
			binary.LittleEndian.PutUint32(buf[at:], math.Float32bits(f))
			at += 4
		}
	}
	for _, v := range []uint32{u.SamplesPerFrame, u.TotalSamples, u.Bounces, u.Frame, u.Extent[0], u.Extent[1]} {
		binary.LittleEndian.PutUint32(buf[at:], v)
		at += 4
	}
	return buf
}
