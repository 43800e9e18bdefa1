//go:build unix

package mem

// Default returns the preferred source for this platform.
func Default() Source {
	return NewMmapSource()
}
