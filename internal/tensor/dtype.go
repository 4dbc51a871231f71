// Package tensor provides the host-side buffer container handed to the
// attention kernels: shapes, element types, and raw device-tagged storage.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported element types. The kernels compute in float32; float64 is
// carried for dense reference computations in validation paths.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the byte size of one element of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}
