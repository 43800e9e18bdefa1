//go:build !unix

package mem

import "os"

// Default returns the preferred source for this platform.
func Default() Source {
	return NewHeapSource(uintptr(os.Getpagesize()))
}
