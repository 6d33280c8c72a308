package capture

import "strings"

// ClassifyDeviceError maps a driver or framework error message to the
// capture taxonomy. It returns nil when the message matches no category.
//
// Priority: permission (most specific), then busy, then unavailable.
func ClassifyDeviceError(msg string) error {
	m := strings.ToLower(msg)

	switch {
	case containsAny(m, "permission denied", "not permitted", "eacces", "unauthorized", "access denied"):
		return ErrPermissionDenied
	case containsAny(m, "busy", "in use", "ebusy", "already opened"):
		return ErrDeviceBusy
	case containsAny(m, "no such file", "no such device", "not found", "cannot identify",
		"could not open", "does not exist", "enodev", "enoent", "not a capture device",
		"not negotiated", "unsupported"):
		return ErrDeviceUnavailable
	}
	return nil
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
