package testutil

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
)

// EICAR is the standard antivirus test string.
const EICAR = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

// StatsReply is a healthy clamd STATS reply.
const StatsReply = "POOLS: 1\n\nSTATE: VALID PRIMARY\nTHREADS: live 1  idle 0 max 10 idle-timeout 30\nQUEUE: 0 items\nMEMSTATS: heap N/A mmap N/A used N/A free N/A releasable N/A pools 1 pools_used 1306.058M pools_total 1306.106M\nEND"

// VersionReply is a clamd VERSION reply.
const VersionReply = "ClamAV 1.4.1/27431/Sun Oct 18 09:27:01 2026"

// ClamdHandler answers one clamd command. payload holds the INSTREAM data.
type ClamdHandler func(command string, payload []byte) string

// FakeClamd is a TCP server speaking enough of the clamd protocol for tests:
// one command per connection, optional INSTREAM chunks, one reply, then close.
type FakeClamd struct {
	ln      net.Listener
	handler ClamdHandler
	wg      sync.WaitGroup

	mu       sync.Mutex
	commands []string
}

// NewFakeClamd starts a fake daemon on a loopback port. A nil handler uses DefaultClamdHandler.
func NewFakeClamd(handler ClamdHandler) (*FakeClamd, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if handler == nil {
		handler = DefaultClamdHandler
	}
	f := &FakeClamd{ln: ln, handler: handler}
	f.wg.Add(1)
	go f.serve()
	return f, nil
}

// Address returns the daemon address in tcp://host:port form.
func (f *FakeClamd) Address() string {
	return "tcp://" + f.ln.Addr().String()
}

// Commands returns the commands received so far, without their n/z prefix.
func (f *FakeClamd) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Close stops accepting connections and waits for in-flight ones.
func (f *FakeClamd) Close() error {
	err := f.ln.Close()
	f.wg.Wait()
	return err
}

func (f *FakeClamd) serve() {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer conn.Close()
			f.handle(conn)
		}()
	}
}

func (f *FakeClamd) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	command, err := readCommand(r)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	var payload []byte
	if command == "INSTREAM" {
		if payload, err = readChunks(r); err != nil {
			return
		}
	}

	reply := f.handler(command, payload)
	io.WriteString(conn, reply+"\n") //nolint:errcheck
}

func readCommand(r *bufio.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' || b == 0 {
			break
		}
		buf.WriteByte(b)
	}
	cmd := buf.String()
	if len(cmd) > 1 && (cmd[0] == 'n' || cmd[0] == 'z') {
		cmd = cmd[1:]
	}
	return cmd, nil
}

func readChunks(r *bufio.Reader) ([]byte, error) {
	var data []byte
	for {
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, err
		}
		if size == 0 {
			return data, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
}

// DefaultClamdHandler behaves like a healthy clamd whose only signature is EICAR.
// Paths containing "eicar" are reported infected.
func DefaultClamdHandler(command string, payload []byte) string {
	switch {
	case command == "PING":
		return "PONG"
	case command == "STATS":
		return StatsReply
	case command == "VERSION":
		return VersionReply
	case command == "INSTREAM":
		if bytes.Contains(payload, []byte(EICAR)) {
			return "stream: Eicar-Test-Signature FOUND"
		}
		return "stream: OK"
	case strings.HasPrefix(command, "SCAN "), strings.HasPrefix(command, "CONTSCAN "):
		path := command[strings.Index(command, " ")+1:]
		if strings.Contains(strings.ToLower(path), "eicar") {
			return path + ": Eicar-Test-Signature FOUND"
		}
		if strings.Contains(path, "missing") {
			return path + ": No such file or directory. ERROR"
		}
		return path + ": OK"
	default:
		return "UNKNOWN COMMAND"
	}
}
