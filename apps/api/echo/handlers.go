package echoapi

// handlers serve the /api routes of a device.
type handlers struct {
	ServerDeps
}
