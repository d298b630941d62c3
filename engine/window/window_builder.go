package window

// WindowBuilderOption configures an engineWindow during NewWindow. Options
// that receive a non-positive dimension leave the default in place.
type WindowBuilderOption func(w *engineWindow)

// WithTitle sets the text shown in the window title bar.
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		if title != "" {
			w.title = title
		}
	}
}

// WithWidth sets the initial window width in pixels.
func WithWidth(width int) WindowBuilderOption {
	return func(w *engineWindow) {
		if width > 0 {
			w.width = width
		}
	}
}

// WithHeight sets the initial window height in pixels.
func WithHeight(height int) WindowBuilderOption {
	return func(w *engineWindow) {
		if height > 0 {
			w.height = height
		}
	}
}

// WithMinWidth sets the smallest width the window may be resized to.
func WithMinWidth(minWidth int) WindowBuilderOption {
	return func(w *engineWindow) {
		if minWidth > 0 {
			w.minWidth = minWidth
		}
	}
}

// WithMinHeight sets the smallest height the window may be resized to.
func WithMinHeight(minHeight int) WindowBuilderOption {
	return func(w *engineWindow) {
		if minHeight > 0 {
			w.minHeight = minHeight
		}
	}
}

// WithMaxWidth sets the largest width the window may be resized to.
func WithMaxWidth(maxWidth int) WindowBuilderOption {
	return func(w *engineWindow) {
		if maxWidth > 0 {
			w.maxWidth = maxWidth
		}
	}
}

// WithMaxHeight sets the largest height the window may be resized to.
func WithMaxHeight(maxHeight int) WindowBuilderOption {
	return func(w *engineWindow) {
		if maxHeight > 0 {
			w.maxHeight = maxHeight
		}
	}
}
