package device

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// ImageFormat is the texel layout of an image. Every format is 4 bytes per texel.
type ImageFormat int

const (
	ImageFormatRGBA8 ImageFormat = iota
	ImageFormatR32Uint
)

func (f ImageFormat) String() string {
	switch f {
	case ImageFormatRGBA8:
		return "rgba8"
	case ImageFormatR32Uint:
		return "r32uint"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ImageUsage is a bit set of the ways an image can be used.
type ImageUsage uint32

const (
	ImageUsageStorage ImageUsage = 1 << iota
	ImageUsageSampled
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

// ImageDescriptor describes a 2D image.
type ImageDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	Format ImageFormat
	Usage  ImageUsage
}

// bytes per texel for every ImageFormat
const texelSize = 4

// Image is a 2D device image.
type Image interface {
	Label() string
	Width() uint32
	Height() uint32
	Format() ImageFormat

	// Pixels returns a copy of the image contents, fetched from the device when the
	// backend keeps its own storage.
	Pixels() ([]byte, error)

	// Write replaces the image contents.
	//
	// Parameters:
	//   - data: exactly Width*Height*4 bytes
	//
	// Returns:
	//   - error: a KindContractViolation GpuError on a size mismatch or a destroyed image
	Write(data []byte) error

	Destroy() error
}

type image struct {
	mu sync.Mutex
	d  *device

	id        uint64
	label     string
	width     uint32
	height    uint32
	format    ImageFormat
	usage     ImageUsage
	pixels    []byte
	destroyed bool

	native any
}

var _ Image = &image{}

func (d *device) CreateImage(desc ImageDescriptor) (Image, error) {
	const op = "create image"
	if err := d.checkLive(op); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, NewError(KindResourceCreation, "device", op, fmt.Errorf("image %q has empty extent %dx%d", desc.Label, desc.Width, desc.Height))
	}
	size := uint64(desc.Width) * uint64(desc.Height) * texelSize
	if size > d.limits.MaxBufferSize {
		return nil, NewError(KindResourceCreation, "device", op, fmt.Errorf("image %q needs %d bytes", desc.Label, size))
	}

	img := &image{
		d:      d,
		id:     d.newID(),
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		usage:  desc.Usage,
		pixels: make([]byte, size),
	}
	if err := d.backend.imageCreated(img); err != nil {
		return nil, NewError(KindResourceCreation, "device", op, err)
	}

	d.mu.Lock()
	d.images[img] = struct{}{}
	d.stats.AllocatedBytes += size
	d.mu.Unlock()
	return img, nil
}

func (img *image) Label() string { return img.label }

func (img *image) Width() uint32 { return img.width }

func (img *image) Height() uint32 { return img.height }

func (img *image) Format() ImageFormat { return img.format }

func (img *image) Pixels() ([]byte, error) {
	if img.isDestroyed() {
		return nil, violation("read image", fmt.Errorf("%w: image %q", ErrDestroyed, img.label))
	}
	if err := img.d.backend.imageFetch(img); err != nil {
		return nil, NewError(KindDeviceLost, "device", "read image", err)
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	return append([]byte(nil), img.pixels...), nil
}

func (img *image) Write(data []byte) error {
	img.mu.Lock()
	if img.destroyed {
		img.mu.Unlock()
		return violation("write image", fmt.Errorf("%w: image %q", ErrDestroyed, img.label))
	}
	if len(data) != len(img.pixels) {
		img.mu.Unlock()
		return violation("write image", fmt.Errorf("%w: %d bytes into image %q of %d bytes", ErrOutOfRange, len(data), img.label, len(img.pixels)))
	}
	copy(img.pixels, data)
	img.mu.Unlock()

	if err := img.d.backend.imageWritten(img); err != nil {
		return NewError(KindDeviceLost, "device", "write image", err)
	}
	return nil
}

func (img *image) Destroy() error {
	img.mu.Lock()
	if img.destroyed {
		img.mu.Unlock()
		return violation("destroy image", fmt.Errorf("%w: image %q", ErrDestroyed, img.label))
	}
	img.destroyed = true
	size := uint64(len(img.pixels))
	img.mu.Unlock()

	img.d.backend.imageDestroyed(img)

	img.d.mu.Lock()
	delete(img.d.images, img)
	img.d.stats.AllocatedBytes -= size
	img.d.mu.Unlock()
	return nil
}

func (img *image) isDestroyed() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.destroyed
}

func (img *image) storeUint32(x, y, v uint32) {
	img.mu.Lock()
	binary.LittleEndian.PutUint32(img.pixels[(y*img.width+x)*texelSize:], v)
	img.mu.Unlock()
}

func (img *image) addUint32(x, y, v uint32) {
	img.mu.Lock()
	at := (y*img.width + x) * texelSize
	binary.LittleEndian.PutUint32(img.pixels[at:], binary.LittleEndian.Uint32(img.pixels[at:])+v)
	img.mu.Unlock()
}

// asImage unwraps an Image created by d.
func (d *device) asImage(i Image) (*image, error) {
	img, ok := i.(*image)
	if !ok || img == nil || img.d != d {
		return nil, fmt.Errorf("image is nil or foreign")
	}
	return img, nil
}
