package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func applyOptions(opts ...WindowBuilderOption) *engineWindow {
	w := &engineWindow{
		title:     "Default Window Title",
		maxWidth:  1600,
		maxHeight: 1200,
		minWidth:  600,
		minHeight: 200,
		width:     1280,
		height:    720,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func TestBuilderOptionsOverrideDefaults(t *testing.T) {
	w := applyOptions(
		WithTitle("Calyx"),
		WithWidth(1920),
		WithHeight(1080),
		WithMinWidth(400),
		WithMinHeight(300),
		WithMaxWidth(3840),
		WithMaxHeight(2160),
	)

	assert.Equal(t, "Calyx", w.title)
	assert.Equal(t, 1920, w.width)
	assert.Equal(t, 1080, w.height)
	assert.Equal(t, 400, w.minWidth)
	assert.Equal(t, 300, w.minHeight)
	assert.Equal(t, 3840, w.maxWidth)
	assert.Equal(t, 2160, w.maxHeight)
}

func TestBuilderOptionsIgnoreInvalidValues(t *testing.T) {
	w := applyOptions(
		WithTitle(""),
		WithWidth(0),
		WithHeight(-1),
		WithMinWidth(0),
		WithMaxHeight(-10),
	)

	assert.Equal(t, "Default Window Title", w.title)
	assert.Equal(t, 1280, w.width)
	assert.Equal(t, 720, w.height)
	assert.Equal(t, 600, w.minWidth)
	assert.Equal(t, 1200, w.maxHeight)
}
