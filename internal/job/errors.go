package job

import "errors"

// ErrLaunchFailed is returned when the dedicated execution window could not
// be created. No job artifacts are left behind when this is returned.
var ErrLaunchFailed = errors.New("launch failed")
