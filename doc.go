// Package scancan is the Go client for ScanCan, a small HTTP API in front of
// a ClamAV daemon, and the home of the JSON types both sides share.
//
// The server itself lives in cmd/scancan; see internal/api for the routes.
//
// # Quick Start
//
//	client, err := scancan.NewClient("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.ScanFilePath(ctx, "/path/to/file.pdf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Status: %s, Infected: %v\n", result.Status, result.IsInfected())
//
// An infected file is not an error: the server answers 406 and the client
// returns a ScanResult whose Status is "FOUND". Everything else that goes
// wrong comes back as *Error; use IsConnectionError, IsTooLargeError and the
// other predicates to tell failures apart.
package scancan
