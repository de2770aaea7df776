//go:build !cuda
// +build !cuda

package nvptx

// Open returns ErrUnavailable when built without the cuda tag.
func Open() (Library, error) {
	return nil, ErrUnavailable
}
