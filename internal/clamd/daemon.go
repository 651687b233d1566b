package clamd

import (
	"context"
	"fmt"
	"io"
	"strings"

	goclamd "github.com/dutchcoders/go-clamd"
)

// Daemon is a single handle onto clamd. Every method returns clamd's reply text.
type Daemon interface {
	Ping() (string, error)
	Stats() (string, error)
	Version() (string, error)
	Scan(path string) (string, error)
	ContScan(path string) (string, error)
	Instream(r io.Reader) (string, error)
}

// Dialer creates a fresh Daemon handle.
type Dialer func(ctx context.Context) (Daemon, error)

// Dial returns a Dialer for the clamd listening at address, which is either
// unix:///path/to/clamd.socket or tcp://host:port.
func Dial(address string) Dialer {
	return func(ctx context.Context) (Daemon, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return within(ctx, func() (Daemon, error) {
			d := &libDaemon{address: address, client: goclamd.NewClamd(address)}
			// go-clamd opens a socket per command, so a ping is the only way to
			// learn whether the daemon is reachable at all.
			if err := d.ping(); isTransport(err) {
				return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, address, err)
			}
			return d, nil
		})
	}
}

// within runs fn on its own goroutine and gives up when ctx is done.
// go-clamd sets no deadlines, so fn itself keeps going until clamd answers
// or drops the socket.
func within[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type libDaemon struct {
	address string
	client  *goclamd.Clamd
}

// ping wraps go-clamd's PING, which dereferences the first reply line
// without checking that one arrived.
func (d *libDaemon) ping() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errNoReply
		}
	}()
	return d.client.Ping()
}

func (d *libDaemon) Ping() (string, error) {
	err := d.ping()
	switch {
	case err == nil:
		return "PONG", nil
	case isTransport(err):
		return "", d.connErr("PING", err)
	default:
		// clamd answered, just not with PONG.
		return err.Error(), nil
	}
}

func (d *libDaemon) Stats() (string, error) {
	stats, err := d.client.Stats()
	if err != nil {
		if isTransport(err) {
			return "", d.connErr("STATS", err)
		}
		return "", fmt.Errorf("%w: STATS: %w", ErrResponse, err)
	}
	// go-clamd drops lines it does not know, so nothing parsed means nothing read.
	if stats.Pools == "" && stats.State == "" && stats.Threads == "" && stats.Queue == "" && stats.Memstats == "" {
		return "", d.connErr("STATS", errNoReply)
	}
	return renderStats(stats), nil
}

func (d *libDaemon) Version() (string, error) {
	ch, err := d.client.Version()
	if err != nil {
		return "", d.commandErr("VERSION", err)
	}
	reply, failed := collect(ch)
	switch {
	case reply == "":
		return "", d.connErr("VERSION", errNoReply)
	case failed:
		return reply, fmt.Errorf("%w: VERSION: %s", ErrResponse, reply)
	}
	return reply, nil
}

func (d *libDaemon) Scan(path string) (string, error) {
	ch, err := d.client.ScanFile(path)
	if err != nil {
		return "", d.commandErr("SCAN", err)
	}
	return d.scanReply("SCAN", ch)
}

func (d *libDaemon) ContScan(path string) (string, error) {
	ch, err := d.client.ContScanFile(path)
	if err != nil {
		return "", d.commandErr("CONTSCAN", err)
	}
	return d.scanReply("CONTSCAN", ch)
}

func (d *libDaemon) Instream(r io.Reader) (string, error) {
	// go-clamd closes the stream's socket once abort is closed.
	abort := make(chan bool)
	defer close(abort)

	ch, err := d.client.ScanStream(r, abort)
	if err != nil {
		return "", d.commandErr("INSTREAM", err)
	}
	return d.scanReply("INSTREAM", ch)
}

func (d *libDaemon) connErr(command string, err error) error {
	return fmt.Errorf("%w: %s via %s: %w", ErrConnection, command, d.address, err)
}

func (d *libDaemon) commandErr(command string, err error) error {
	if isTransport(err) {
		return d.connErr(command, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrResponse, command, err)
}

// collect drains a go-clamd result stream back into clamd's text form and
// reports whether any line carried an ERROR status.
func collect(ch chan *goclamd.ScanResult) (string, bool) {
	var (
		lines  []string
		failed bool
	)
	for res := range ch {
		if res == nil {
			continue
		}
		lines = append(lines, res.Raw)
		if res.Status == goclamd.RES_ERROR {
			failed = true
		}
	}
	return strings.Join(lines, "\n"), failed
}

func (d *libDaemon) scanReply(command string, ch chan *goclamd.ScanResult) (string, error) {
	reply, failed := collect(ch)
	if reply == "" {
		return "", d.connErr(command, errNoReply)
	}
	if failed {
		return reply, fmt.Errorf("%w: %s: %s", ErrScan, command, reply)
	}
	return reply, nil
}

// renderStats rebuilds the STATS reply text from go-clamd's parsed form.
// Pools is stored without its label; the remaining fields keep their raw line.
func renderStats(s *goclamd.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "POOLS: %s\n\n", s.Pools)
	for _, line := range []string{s.State, s.Threads, s.Queue, s.Memstats} {
		if line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteString("END")
	return b.String()
}
