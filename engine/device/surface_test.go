package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfaceOutOfDateRecovery(t *testing.T) {
	d := newTestDevice(t, WithSurface(4, 4))
	s := d.Surface()
	require.NotNil(t, s)

	img, err := d.CreateImage(ImageDescriptor{Label: "frame", Width: 4, Height: 4})
	require.NoError(t, err)

	require.NoError(t, s.Acquire())
	require.NoError(t, s.Present(img))
	assert.EqualValues(t, 1, s.Presented())

	s.Resize(8, 6)
	err = s.Acquire()
	assert.ErrorIs(t, err, ErrOutOfDate)
	assertKind(t, err, KindOutOfDate)
	assert.False(t, IsFatal(err))

	w, h := s.Extent()
	require.NoError(t, s.Configure(w, h))

	require.NoError(t, s.Acquire())
	err = s.Present(img)
	assertKind(t, err, KindContractViolation)

	resized, err := d.CreateImage(ImageDescriptor{Label: "frame", Width: 8, Height: 6})
	require.NoError(t, err)
	require.NoError(t, s.Acquire())
	require.NoError(t, s.Present(resized))
	assert.EqualValues(t, 2, s.Presented())
}

func TestHeadlessDeviceHasNoSurface(t *testing.T) {
	d := newTestDevice(t)
	assert.Nil(t, d.Surface())
}

func TestImageWriteAndDestroy(t *testing.T) {
	d := newTestDevice(t)

	_, err := d.CreateImage(ImageDescriptor{Label: "empty"})
	assertKind(t, err, KindResourceCreation)

	img, err := d.CreateImage(ImageDescriptor{Label: "texture", Width: 2, Height: 1, Format: ImageFormatRGBA8})
	require.NoError(t, err)
	assert.ErrorIs(t, img.Write([]byte{1, 2, 3}), ErrOutOfRange)
	require.NoError(t, img.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	pixels, err := img.Pixels()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, pixels)

	require.NoError(t, img.Destroy())
	_, err = img.Pixels()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.Zero(t, d.Stats().Images)
}
