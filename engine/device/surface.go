package device

import (
	"fmt"
	"sync"
)

// Surface is the presentation target of a windowed device.
type Surface interface {
	// Configure (re)creates the swapchain at the given extent and clears the out-of-date state.
	Configure(width, height uint32) error

	// Resize records a new window extent. The next Acquire reports KindOutOfDate until
	// Configure is called again.
	Resize(width, height uint32)

	// Extent returns the most recent extent passed to Configure or Resize.
	Extent() (uint32, uint32)

	// Acquire reserves the next swapchain image.
	//
	// Returns:
	//   - error: a KindOutOfDate GpuError wrapping ErrOutOfDate when the swapchain must be reconfigured
	Acquire() error

	// Present shows img. It must match the configured extent.
	Present(img Image) error

	// Presented returns how many images have been presented.
	Presented() uint64
}

type surface struct {
	mu sync.Mutex
	d  *device

	width      uint32
	height     uint32
	configured bool
	outOfDate  bool
	acquired   bool
	presented  uint64
}

var _ Surface = &surface{}

func (s *surface) Configure(width, height uint32) error {
	if width == 0 || height == 0 {
		return NewError(KindResourceCreation, "device", "configure surface", fmt.Errorf("empty extent %dx%d", width, height))
	}
	if err := s.d.backend.configureSurface(width, height); err != nil {
		return NewError(KindResourceCreation, "device", "configure surface", err)
	}
	s.mu.Lock()
	s.width, s.height = width, height
	s.configured = true
	s.outOfDate = false
	s.acquired = false
	s.mu.Unlock()
	s.d.logger.Debugf("configured surface %dx%d", width, height)
	return nil
}

func (s *surface) Resize(width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if width == s.width && height == s.height {
		return
	}
	s.width, s.height = width, height
	s.outOfDate = true
}

func (s *surface) Extent() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *surface) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return violation("acquire surface image", ErrNoSurface)
	}
	if s.outOfDate || s.width == 0 || s.height == 0 {
		return NewError(KindOutOfDate, "device", "acquire surface image", ErrOutOfDate)
	}
	if s.acquired {
		return violation("acquire surface image", fmt.Errorf("%w: previous image was not presented", ErrInvalidState))
	}
	if err := s.d.backend.acquire(); err != nil {
		return asGpuError(KindOutOfDate, "device", "acquire surface image", err)
	}
	s.acquired = true
	return nil
}

func (s *surface) Present(img Image) error {
	const op = "present"
	i, err := s.d.asImage(img)
	if err != nil {
		return violation(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return violation(op, fmt.Errorf("%w: no image acquired", ErrInvalidState))
	}
	s.acquired = false
	if s.outOfDate {
		return NewError(KindOutOfDate, "device", op, ErrOutOfDate)
	}
	if i.width != s.width || i.height != s.height {
		return violation(op, fmt.Errorf("image %q is %dx%d, surface is %dx%d", i.label, i.width, i.height, s.width, s.height))
	}
	if err := s.d.backend.present(i); err != nil {
		return asGpuError(KindOutOfDate, "device", op, err)
	}
	s.presented++
	return nil
}

func (s *surface) Presented() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}
