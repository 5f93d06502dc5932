//go:build !rnnoise || !cgo

package engine

// NewRNNoise reports ErrUnavailable when built without the rnnoise tag.
// Use the "gate" or "passthrough" engine instead.
func NewRNNoise() (Engine, error) {
	return nil, ErrUnavailable
}
