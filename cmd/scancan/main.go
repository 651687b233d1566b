// Command scancan serves the ScanCan HTTP API in front of clamd and
// doubles as a command-line client for it.
package main

func main() {
	Execute()
}
