package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWindow struct {
	visible bool
	events  []string
}

func (w *fakeWindow) Visible() bool { return w.visible }

func (w *fakeWindow) Hide(ctx context.Context) error {
	w.events = append(w.events, "hide")
	w.visible = false
	return nil
}

func (w *fakeWindow) Show(ctx context.Context) error {
	w.events = append(w.events, "show")
	w.visible = true
	return nil
}

type grabFunc func(ctx context.Context) ([]byte, error)

func (f grabFunc) Grab(ctx context.Context) ([]byte, error) { return f(ctx) }

var samplePNG = append(append([]byte{}, pngMagic...), []byte("IHDR-fake-body")...)

func TestWithHiddenRestoresVisibility(t *testing.T) {
	w := &fakeWindow{visible: true}
	var seenVisible bool
	err := WithHidden(context.Background(), w, func(ctx context.Context) error {
		seenVisible = w.Visible()
		return nil
	})
	require.NoError(t, err)
	assert.False(t, seenVisible)
	assert.True(t, w.Visible())
	assert.Equal(t, []string{"hide", "show"}, w.events)
}

func TestWithHiddenRestoresOnErrorAndPanic(t *testing.T) {
	w := &fakeWindow{visible: true}
	boom := errors.New("boom")
	err := WithHidden(context.Background(), w, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, w.Visible())

	w2 := &fakeWindow{visible: true}
	assert.Panics(t, func() {
		_ = WithHidden(context.Background(), w2, func(ctx context.Context) error { panic("grab crashed") })
	})
	assert.True(t, w2.Visible())
}

func TestWithHiddenKeepsHiddenWindowHidden(t *testing.T) {
	w := &fakeWindow{visible: false}
	err := WithHidden(context.Background(), w, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, w.Visible())
	assert.Empty(t, w.events)
}

func TestHelperCapture(t *testing.T) {
	w := &fakeWindow{visible: true}
	h := NewHelper(w, grabFunc(func(ctx context.Context) ([]byte, error) { return samplePNG, nil }))

	got, err := h.Capture(context.Background())
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	assert.Equal(t, samplePNG, decoded)
	assert.True(t, w.Visible())
	assert.Equal(t, "data:image/png;base64,"+got, DataURL(got))
}

func TestHelperRejectsNonPNG(t *testing.T) {
	h := NewHelper(nil, grabFunc(func(ctx context.Context) ([]byte, error) { return []byte("GIF89a"), nil }))
	_, err := h.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotPNG)

	h = NewHelper(nil, grabFunc(func(ctx context.Context) ([]byte, error) { return nil, nil }))
	_, err = h.Capture(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCapture)

	_, err = NewHelper(nil, nil).Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoCaptureSource)
}

func TestNewGrabber(t *testing.T) {
	_, err := NewGrabber(Config{})
	assert.ErrorIs(t, err, ErrNoCaptureSource)

	g, err := NewGrabber(Config{File: "x.png", Command: "grim"})
	require.NoError(t, err)
	assert.IsType(t, FileGrabber{}, g)

	g, err = NewGrabber(Config{Command: "grim", Args: []string{"-"}})
	require.NoError(t, err)
	assert.IsType(t, &CommandGrabber{}, g)
}

func TestFileGrabber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screen.png")
	require.NoError(t, os.WriteFile(path, samplePNG, 0o600))

	b, err := FileGrabber{Path: path}.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, samplePNG, b)

	_, err = FileGrabber{Path: filepath.Join(t.TempDir(), "missing.png")}.Grab(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCommandGrabberMissingBinary(t *testing.T) {
	g := &CommandGrabber{Command: "loopie-definitely-not-installed"}
	_, err := g.Grab(context.Background())
	assert.ErrorIs(t, err, ErrNoCaptureSource)
}
