package addressing

import "errors"

// ErrInvalidTopology reports malformed addressing input: out-of-range cell
// indices, faces with lower >= upper, or faces that are not in upper-triangular
// order where that order is required. It is fatal to the collective operation
// that detected it
var ErrInvalidTopology = errors.New("addressing: invalid topology")

// ErrInvalidIndex reports a patch index outside the configured patch count
var ErrInvalidIndex = errors.New("addressing: index out of range")

// NotFound is returned by TriIndex when two cells share no face. It is an
// expected outcome, not an error
const NotFound = -1
