package clamd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DevHatRo/scancan/internal/logging"
	"github.com/DevHatRo/scancan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDaemon is a scripted Daemon. Each field, when set, overrides the command.
type stubDaemon struct {
	mu       sync.Mutex
	calls    []string
	ping     func() (string, error)
	scan     func(path string) (string, error)
	instream func(data []byte) (string, error)
}

func (s *stubDaemon) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *stubDaemon) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubDaemon) Ping() (string, error) {
	s.record("ping")
	if s.ping != nil {
		return s.ping()
	}
	return "PONG", nil
}

func (s *stubDaemon) Stats() (string, error) {
	s.record("stats")
	return testutil.StatsReply, nil
}

func (s *stubDaemon) Version() (string, error) {
	s.record("version")
	return testutil.VersionReply, nil
}

func (s *stubDaemon) Scan(path string) (string, error) {
	s.record("scan")
	if s.scan != nil {
		return s.scan(path)
	}
	return path + ": OK", nil
}

func (s *stubDaemon) ContScan(path string) (string, error) {
	s.record("contscan")
	return path + ": OK", nil
}

func (s *stubDaemon) Instream(r io.Reader) (string, error) {
	s.record("instream")
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if s.instream != nil {
		return s.instream(data)
	}
	return "stream: OK", nil
}

// sequenceDialer hands out the given daemons in order and counts dials.
type sequenceDialer struct {
	mu      sync.Mutex
	daemons []Daemon
	dials   int
	err     error
}

func (d *sequenceDialer) dial(ctx context.Context) (Daemon, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.daemons) == 0 {
		return nil, fmt.Errorf("%w: no daemon left", ErrConnection)
	}
	next := d.daemons[0]
	d.daemons = d.daemons[1:]
	return next, nil
}

func connLost() error {
	return fmt.Errorf("%w: read: connection reset by peer", ErrConnection)
}

func TestConnector_LazyConnect(t *testing.T) {
	first := &stubDaemon{}
	dialer := &sequenceDialer{daemons: []Daemon{first}}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	assert.Equal(t, 0, dialer.dials, "no dial before the first command")

	reply, err := c.Scan(context.Background(), "/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.txt: OK", reply)
	assert.Equal(t, 1, dialer.dials)

	_, err = c.Scan(context.Background(), "/data/b.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, dialer.dials, "healthy handle is reused")
	assert.Equal(t, []string{"scan", "ping", "scan"}, first.calls)
}

func TestConnector_ReconnectsWhenPingFails(t *testing.T) {
	stale := &stubDaemon{ping: func() (string, error) { return "", connLost() }}
	fresh := &stubDaemon{}
	dialer := &sequenceDialer{daemons: []Daemon{stale, fresh}}

	var reconnects int
	c := NewConnector(dialer.dial,
		WithLogger(logging.NewNop()),
		WithReconnectHook(func() { reconnects++ }),
	)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 0, reconnects, "the first connect is not a reconnect")

	reply, err := c.ContScan(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, "/data: OK", reply)
	assert.Equal(t, 2, dialer.dials)
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, []string{"ping"}, stale.calls)
	assert.Equal(t, []string{"contscan"}, fresh.calls)
}

func TestConnector_RetriesOnceAfterConnectionError(t *testing.T) {
	var payloads [][]byte
	flaky := &stubDaemon{instream: func(data []byte) (string, error) {
		payloads = append(payloads, data)
		return "", connLost()
	}}
	fresh := &stubDaemon{instream: func(data []byte) (string, error) {
		payloads = append(payloads, data)
		return "stream: Eicar-Test-Signature FOUND", nil
	}}
	dialer := &sequenceDialer{daemons: []Daemon{flaky, fresh}}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	reply, err := c.Instream(context.Background(), []byte(testutil.EICAR))
	require.NoError(t, err)
	assert.True(t, Found(reply))
	require.Len(t, payloads, 2)
	assert.Equal(t, payloads[0], payloads[1], "payload is replayed on retry")
}

func TestConnector_GivesUpAfterOneRetry(t *testing.T) {
	broken := func() *stubDaemon {
		return &stubDaemon{scan: func(string) (string, error) { return "", connLost() }}
	}
	dialer := &sequenceDialer{daemons: []Daemon{broken(), broken(), broken()}}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	_, err := c.Scan(context.Background(), "/data/a.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 2, dialer.dials)
}

func TestConnector_ScanErrorIsNotRetried(t *testing.T) {
	d := &stubDaemon{scan: func(path string) (string, error) {
		return path + ": No such file or directory. ERROR", fmt.Errorf("%w: SCAN", ErrScan)
	}}
	dialer := &sequenceDialer{daemons: []Daemon{d}}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	_, err := c.Scan(context.Background(), "/nope")
	assert.ErrorIs(t, err, ErrScan)
	assert.Equal(t, 1, dialer.dials)
}

func TestConnector_DialFailure(t *testing.T) {
	dialer := &sequenceDialer{err: fmt.Errorf("%w: dial tcp: connection refused", ErrConnection)}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	_, err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrConnection)

	_, err = c.Stats(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 2, dialer.dials, "every command tries to connect again")
}

func TestConnector_CanceledContext(t *testing.T) {
	dialer := &sequenceDialer{daemons: []Daemon{&stubDaemon{}}}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Version(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, dialer.dials)
}

func TestConnector_CloseDropsHandle(t *testing.T) {
	dialer := &sequenceDialer{daemons: []Daemon{&stubDaemon{}, &stubDaemon{}}}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	_, err := c.Ping(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.dials)
}

func TestConnector_ReconnectHookCountsReplacementsOnly(t *testing.T) {
	dialer := &sequenceDialer{daemons: []Daemon{&stubDaemon{}, &stubDaemon{}}}
	var reconnects int
	c := NewConnector(dialer.dial,
		WithLogger(logging.NewNop()),
		WithReconnectHook(func() { reconnects++ }),
	)

	_, err := c.Ping(context.Background())
	require.NoError(t, err)
	_, err = c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reconnects)

	require.NoError(t, c.Close())
	_, err = c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reconnects)
}

func TestConnector_StuckDaemonDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := &stubDaemon{ping: func() (string, error) {
		<-release
		return "PONG", nil
	}}
	dialer := &sequenceDialer{daemons: []Daemon{stuck}}
	c := NewConnector(dialer.dial, WithLogger(logging.NewNop()))

	go func() { _, _ = c.Ping(context.Background()) }()
	require.Eventually(t, func() bool { return stuck.count() > 0 }, time.Second, 5*time.Millisecond)

	for _, name := range []string{"ping", "stats"} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			start := time.Now()
			var err error
			if name == "ping" {
				_, err = c.Ping(ctx)
			} else {
				_, err = c.Stats(ctx)
			}
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}
	assert.Equal(t, 1, dialer.dials, "a deadline is not a reason to reconnect")
}

func TestConnector_DaemonHangsUp(t *testing.T) {
	addr := startMuteClamd(t, true)
	c := NewConnector(Dial(addr), WithLogger(logging.NewNop()))

	assert.NotPanics(t, func() {
		_, err := c.Ping(context.Background())
		assert.ErrorIs(t, err, ErrConnection)
	})
}

func TestConnector_DaemonNeverAnswers(t *testing.T) {
	addr := startMuteClamd(t, false)
	c := NewConnector(Dial(addr), WithLogger(logging.NewNop()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Ping(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnector_AgainstFakeClamd(t *testing.T) {
	fake := startFakeClamd(t, nil)
	c := NewConnector(Dial(fake.Address()), WithLogger(logging.NewNop()))

	reply, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, IsPong(reply))

	reply, err = c.Instream(context.Background(), []byte(testutil.EICAR))
	require.NoError(t, err)
	assert.Equal(t, []string{"Eicar-Test-Signature"}, Signatures(reply))
}
