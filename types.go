package scancan

// Scan statuses reported in ScanResult.Status.
const (
	StatusOK    = "OK"
	StatusFound = "FOUND"
)

// ScanResponse is the body of a successful scan: clamd's reply verbatim.
type ScanResponse struct {
	Result string `json:"result"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Response   string `json:"response"`
}

// VirusFoundResponse is the 406 body returned when clamd reports a match.
// Path is the scanned path or URL; it is omitted for uploads.
type VirusFoundResponse struct {
	StatusCode int    `json:"status_code"`
	Response   string `json:"response"`
	Path       string `json:"path,omitempty"`
}

// Health holds clamd's raw PING and STATS replies.
type Health struct {
	Ping  string `json:"ping"`
	Stats string `json:"stats"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Result Health `json:"result"`
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	// Version is the ScanCan build version.
	Version string `json:"version"`
	// ClamAV is clamd's VERSION reply, e.g. "ClamAV 1.4.1/27431/Sun Oct 18 09:27:01 2026".
	ClamAV string `json:"clamav"`
}

// ScanResult is the client-side view of a scan.
type ScanResult struct {
	// Status is "OK" (clean) or "FOUND" (infected).
	Status string
	// Reply is clamd's reply text.
	Reply string
	// Path is the scanned path or URL, if the server reported one.
	Path string
}

// IsInfected returns true if the scan found a virus.
func (r *ScanResult) IsInfected() bool {
	return r.Status == StatusFound
}

// IsClean returns true if nothing was found.
func (r *ScanResult) IsClean() bool {
	return r.Status == StatusOK
}
