package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	errInvalidGLTFVersion = errors.New("invalid glTF version: must be 2.x")
	errInvalidGLBMagic    = errors.New("invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("invalid GLB version: must be 2")
	errMissingJSONChunk   = errors.New("GLB file missing JSON chunk")
	errInvalidBufferURI   = errors.New("invalid buffer URI")
	errBufferSizeMismatch = errors.New("buffer size mismatch")
	errAccessorBounds     = errors.New("accessor reads past the end of its buffer")
)

// gltfParserImpl is the implementation of the gltfParser interface.
type gltfParserImpl struct {
	baseDir        string
	document       *gltfDocument
	glbBinaryChunk []byte
}

// gltfParser loads a glTF/GLB document with its buffers and decodes accessors.
type gltfParser interface {
	// Parse loads a .gltf or .glb file. The GLB magic is sniffed, so the extension is
	// only a hint.
	//
	// Parameters:
	//   - path: path to the glTF or GLB file
	//
	// Returns:
	//   - error: error if parsing fails
	Parse(path string) error

	// ParseReader parses a document from a stream. External buffer URIs resolve
	// against baseDir.
	//
	// Parameters:
	//   - r: reader containing glTF JSON or GLB data
	//   - baseDir: directory used for relative URIs
	//
	// Returns:
	//   - error: error if parsing fails
	ParseReader(r io.Reader, baseDir string) error

	// Document returns the parsed document, or nil before a successful parse.
	Document() *gltfDocument

	// BaseDir returns the directory relative URIs resolve against.
	BaseDir() string

	// ReadFloats decodes an accessor into a flat float slice with components values per
	// element. FLOAT data is read directly and normalized integer data is mapped to [0, 1]
	// or [-1, 1].
	//
	// Parameters:
	//   - accessorIndex: the accessor to read
	//   - accessorType: the element type the caller expects (VEC2, VEC3 ...)
	//
	// Returns:
	//   - []float32: count*components values
	//   - error: error if the accessor has another type or is out of bounds
	ReadFloats(accessorIndex int, accessorType string) ([]float32, error)

	// ReadIndices decodes a SCALAR unsigned accessor into uint32 indices.
	//
	// Parameters:
	//   - accessorIndex: the accessor to read
	//
	// Returns:
	//   - []uint32: the indices
	//   - error: error if the accessor is not an unsigned scalar
	ReadIndices(accessorIndex int) ([]uint32, error)

	// ReadBufferView returns a copy of the raw bytes of a buffer view.
	//
	// Parameters:
	//   - bufferViewIndex: the buffer view to read
	//
	// Returns:
	//   - []byte: the bytes
	//   - error: error if the view is out of range
	ReadBufferView(bufferViewIndex int) ([]byte, error)
}

var _ gltfParser = &gltfParserImpl{}

// newGLTFParser creates a new glTF parser.
//
// Returns:
//   - gltfParser: a parser with no document loaded
func newGLTFParser() gltfParser {
	return &gltfParserImpl{}
}

func (p *gltfParserImpl) Document() *gltfDocument {
	return p.document
}

func (p *gltfParserImpl) BaseDir() string {
	return p.baseDir
}

func (p *gltfParserImpl) Parse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return p.parse(data, filepath.Dir(path))
}

func (p *gltfParserImpl) ParseReader(r io.Reader, baseDir string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	return p.parse(data, baseDir)
}

func (p *gltfParserImpl) parse(data []byte, baseDir string) error {
	p.baseDir = baseDir
	p.glbBinaryChunk = nil

	jsonData := data
	if len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == gltfGLBMagic {
		var err error
		if jsonData, err = p.splitGLB(data); err != nil {
			return err
		}
	}

	var doc gltfDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("failed to parse glTF JSON: %w", err)
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return errInvalidGLTFVersion
	}
	if len(doc.ExtensionsRequired) > 0 {
		return fmt.Errorf("required extensions not supported: %s", strings.Join(doc.ExtensionsRequired, ", "))
	}
	if err := p.loadBuffers(&doc); err != nil {
		return fmt.Errorf("failed to load buffers: %w", err)
	}

	p.document = &doc
	return nil
}

// splitGLB walks the GLB chunks, keeps the BIN chunk and returns the JSON chunk.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#glb-file-format-specification
func (p *gltfParserImpl) splitGLB(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, errors.New("GLB file too small")
	}

	r := bytes.NewReader(data)
	var header gltfGLBHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read GLB header: %w", err)
	}
	if header.Magic != gltfGLBMagic {
		return nil, errInvalidGLBMagic
	}
	if header.Version != gltfGLBVersion {
		return nil, errInvalidGLBVersion
	}

	var jsonData []byte
	for {
		var chunk gltfGLBChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		body := make([]byte, chunk.ChunkLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("failed to read chunk data: %w", err)
		}
		switch chunk.ChunkType {
		case gltfGLBChunkJSON:
			jsonData = body
		case gltfGLBChunkBIN:
			p.glbBinaryChunk = body
		}
	}

	if jsonData == nil {
		return nil, errMissingJSONChunk
	}
	return jsonData, nil
}

func (p *gltfParserImpl) loadBuffers(doc *gltfDocument) error {
	for i := range doc.Buffers {
		buf := &doc.Buffers[i]

		switch {
		case buf.URI == "" && i == 0 && p.glbBinaryChunk != nil:
			buf.Data = p.glbBinaryChunk
		case buf.URI == "":
			return fmt.Errorf("buffer %d has no URI and no GLB binary chunk", i)
		case strings.HasPrefix(buf.URI, "data:"):
			data, _, err := gltfDecodeDataURI(buf.URI)
			if err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
			buf.Data = data
		default:
			data, err := os.ReadFile(filepath.Join(p.baseDir, buf.URI))
			if err != nil {
				return fmt.Errorf("buffer %d: failed to load %q: %w", i, buf.URI, err)
			}
			buf.Data = data
		}

		if len(buf.Data) < buf.ByteLength {
			return fmt.Errorf("buffer %d: %w", i, errBufferSizeMismatch)
		}
	}
	return nil
}

// accessorView resolves an accessor to its backing bytes, element size and stride.
func (p *gltfParserImpl) accessorView(accessorIndex int) (*gltfAccessor, []byte, int, int, error) {
	if p.document == nil {
		return nil, nil, 0, 0, errors.New("no document loaded")
	}
	doc := p.document
	if accessorIndex < 0 || accessorIndex >= len(doc.Accessors) {
		return nil, nil, 0, 0, fmt.Errorf("accessor index %d out of range", accessorIndex)
	}
	acc := &doc.Accessors[accessorIndex]
	if acc.Sparse != nil {
		return nil, nil, 0, 0, errors.New("sparse accessors are not supported")
	}
	if acc.BufferView == nil || *acc.BufferView < 0 || *acc.BufferView >= len(doc.BufferViews) {
		return nil, nil, 0, 0, fmt.Errorf("accessor %d has no valid bufferView", accessorIndex)
	}

	bv := &doc.BufferViews[*acc.BufferView]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) {
		return nil, nil, 0, 0, fmt.Errorf("buffer index %d out of range", bv.Buffer)
	}
	data := doc.Buffers[bv.Buffer].Data

	elementSize := gltfComponentTypeSize(acc.ComponentType) * gltfAccessorTypeComponentCount(acc.Type)
	if elementSize == 0 {
		return nil, nil, 0, 0, fmt.Errorf("accessor %d: unsupported layout %s/%d", accessorIndex, acc.Type, acc.ComponentType)
	}
	stride := elementSize
	if bv.ByteStride != nil && *bv.ByteStride > 0 {
		stride = *bv.ByteStride
	}

	start := bv.ByteOffset + acc.ByteOffset
	if acc.Count > 0 {
		end := start + (acc.Count-1)*stride + elementSize
		if end > len(data) || end > bv.ByteOffset+bv.ByteLength {
			return nil, nil, 0, 0, fmt.Errorf("accessor %d: %w", accessorIndex, errAccessorBounds)
		}
	}
	return acc, data[start:], elementSize, stride, nil
}

func (p *gltfParserImpl) ReadFloats(accessorIndex int, accessorType string) ([]float32, error) {
	acc, data, _, stride, err := p.accessorView(accessorIndex)
	if err != nil {
		return nil, err
	}
	if acc.Type != accessorType {
		return nil, fmt.Errorf("accessor %d is %s, want %s", accessorIndex, acc.Type, accessorType)
	}
	if acc.ComponentType != gltfComponentTypeFloat && !acc.Normalized {
		return nil, fmt.Errorf("accessor %d: componentType %d is neither FLOAT nor normalized", accessorIndex, acc.ComponentType)
	}

	components := gltfAccessorTypeComponentCount(acc.Type)
	componentSize := gltfComponentTypeSize(acc.ComponentType)
	out := make([]float32, acc.Count*components)
	for i := 0; i < acc.Count; i++ {
		element := data[i*stride:]
		for c := 0; c < components; c++ {
			out[i*components+c] = gltfDecodeComponent(element[c*componentSize:], acc.ComponentType)
		}
	}
	return out, nil
}

func (p *gltfParserImpl) ReadIndices(accessorIndex int) ([]uint32, error) {
	acc, data, _, stride, err := p.accessorView(accessorIndex)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltfAccessorTypeScalar {
		return nil, fmt.Errorf("index accessor is not SCALAR: type=%s", acc.Type)
	}

	out := make([]uint32, acc.Count)
	for i := range out {
		element := data[i*stride:]
		switch acc.ComponentType {
		case gltfComponentTypeUnsignedByte:
			out[i] = uint32(element[0])
		case gltfComponentTypeUnsignedShort:
			out[i] = uint32(binary.LittleEndian.Uint16(element))
		case gltfComponentTypeUnsignedInt:
			out[i] = binary.LittleEndian.Uint32(element)
		default:
			return nil, fmt.Errorf("unsupported index component type: %d", acc.ComponentType)
		}
	}
	return out, nil
}

func (p *gltfParserImpl) ReadBufferView(bufferViewIndex int) ([]byte, error) {
	doc := p.document
	if doc == nil {
		return nil, errors.New("no document loaded")
	}
	if bufferViewIndex < 0 || bufferViewIndex >= len(doc.BufferViews) {
		return nil, fmt.Errorf("bufferView index %d out of range", bufferViewIndex)
	}
	bv := &doc.BufferViews[bufferViewIndex]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) {
		return nil, fmt.Errorf("buffer index %d out of range", bv.Buffer)
	}

	buf := doc.Buffers[bv.Buffer].Data
	end := bv.ByteOffset + bv.ByteLength
	if end > len(buf) {
		return nil, fmt.Errorf("bufferView exceeds buffer bounds: offset=%d length=%d bufSize=%d", bv.ByteOffset, bv.ByteLength, len(buf))
	}
	return bytes.Clone(buf[bv.ByteOffset:end]), nil
}

// gltfDecodeComponent reads one little-endian component as a float, applying the glTF
// normalization rules to integer types.
func gltfDecodeComponent(b []byte, componentType int) float32 {
	switch componentType {
	case gltfComponentTypeFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case gltfComponentTypeUnsignedByte:
		return float32(b[0]) / 255
	case gltfComponentTypeByte:
		return max(float32(int8(b[0]))/127, -1)
	case gltfComponentTypeUnsignedShort:
		return float32(binary.LittleEndian.Uint16(b)) / 65535
	case gltfComponentTypeShort:
		return max(float32(int16(binary.LittleEndian.Uint16(b)))/32767, -1)
	default:
		return 0
	}
}

// gltfDecodeDataURI decodes a base64 data URI into raw bytes and its MIME type.
// Format: data:[<mediatype>][;base64],<data>
func gltfDecodeDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", errInvalidBufferURI
	}
	header, encoded, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, "", errInvalidBufferURI
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("unsupported data URI encoding: %s", header)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64: %w", err)
	}
	return data, mimeType, nil
}

func gltfComponentTypeSize(componentType int) int {
	switch componentType {
	case gltfComponentTypeByte, gltfComponentTypeUnsignedByte:
		return 1
	case gltfComponentTypeShort, gltfComponentTypeUnsignedShort:
		return 2
	case gltfComponentTypeUnsignedInt, gltfComponentTypeFloat:
		return 4
	default:
		return 0
	}
}

func gltfAccessorTypeComponentCount(accessorType string) int {
	switch accessorType {
	case gltfAccessorTypeScalar:
		return 1
	case gltfAccessorTypeVec2:
		return 2
	case gltfAccessorTypeVec3:
		return 3
	case gltfAccessorTypeVec4:
		return 4
	default:
		return 0
	}
}
