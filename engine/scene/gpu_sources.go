package scene

import _ "embed"

// GPUVertexSource is the WGSL definition of Vertex. Fields are scalars so the struct
// keeps the packed 36-byte stride.
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUMaterialSource is the WGSL definition of Material (80 bytes, std430).
//
//go:embed assets/material.wgsl
var GPUMaterialSource string

// GPUOffsetSource is the WGSL definition of Offset.
//
//go:embed assets/offset.wgsl
var GPUOffsetSource string

// GPUSphereParamsSource is the WGSL definition of SphereParams.
//
//go:embed assets/sphere_params.wgsl
var GPUSphereParamsSource string
