package cgroupfs

import "errors"

// ErrMalformedValue indicates a cgroup file's content could not be parsed
// as the integer counter it is supposed to hold.
var ErrMalformedValue = errors.New("cgroupfs: malformed value")
