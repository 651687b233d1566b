package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/DevHatRo/scancan"
	"github.com/spf13/cobra"
)

// errInfected makes the process exit non-zero after a FOUND reply has been printed.
var errInfected = errors.New("virus found")

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan through a running ScanCan server",
}

var scanFileCmd = &cobra.Command{
	Use:   "file <local-file>",
	Short: "Upload a local file and scan it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, func(c *scancan.Client) (*scancan.ScanResult, error) {
			return c.ScanFilePath(cmd.Context(), args[0])
		})
	},
}

var scanPathCmd = &cobra.Command{
	Use:   "path <path-on-clamd-host>",
	Short: "Scan a path mounted on the clamd host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, func(c *scancan.Client) (*scancan.ScanResult, error) {
			return c.ScanPath(cmd.Context(), args[0])
		})
	},
}

var scanContCmd = &cobra.Command{
	Use:   "contscan <path-on-clamd-host>",
	Short: "Scan a mounted path without stopping at the first match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, func(c *scancan.Client) (*scancan.ScanResult, error) {
			return c.ContScan(cmd.Context(), args[0])
		})
	},
}

var scanURLCmd = &cobra.Command{
	Use:   "url <url>",
	Short: "Have the server download a URL and scan it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, func(c *scancan.Client) (*scancan.ScanResult, error) {
			return c.ScanURL(cmd.Context(), args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanFileCmd, scanPathCmd, scanContCmd, scanURLCmd)

	server := os.Getenv("SCANCAN_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	scanCmd.PersistentFlags().StringP("server", "s", server, "ScanCan base URL ($SCANCAN_URL)")
	scanCmd.PersistentFlags().Duration("timeout", 60*time.Second, "Request timeout")
}

func runScan(cmd *cobra.Command, scan func(*scancan.Client) (*scancan.ScanResult, error)) error {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client, err := scancan.NewClient(server, scancan.WithTimeout(timeout), scancan.WithUserAgent("scancan-cli/"+version))
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := scan(client)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Reply)
	if result.IsInfected() {
		return errInfected
	}
	return nil
}
