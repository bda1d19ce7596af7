package driven

import "context"

// TextSource extracts the currently visible text of one watched page.
// Implementations must return only text whose ancestors are not hidden, and
// an empty string when nothing qualifies.
type TextSource interface {
	VisibleText(ctx context.Context) (string, error)
}

// DeviceSignals exposes best-effort environment hints that scale the capture
// heartbeat. Absence or failure of the underlying capability must yield the
// neutral answer (false), never an error.
type DeviceSignals interface {
	// SaveData reports whether the network signals a reduced-data preference.
	SaveData() bool

	// LowBattery reports whether the device is on a low, non-charging battery.
	LowBattery() bool
}
