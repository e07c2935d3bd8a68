package server

import (
	"bufio"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberworks/emberos/internal/board"
	"github.com/emberworks/emberos/internal/logging"
)

// attach opens the operator side of the serial console.
func attach(t *testing.T, s *Serial) (*os.File, *bufio.Reader) {
	t.Helper()
	term, err := os.OpenFile(s.Device(), os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { term.Close() })
	return term, bufio.NewReader(term)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	lines := make(chan string, 1)
	go func() {
		line, err := r.ReadString('\n')
		if err == nil {
			lines <- strings.TrimRight(line, "\r\n")
		}
	}()
	select {
	case line := <-lines:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no serial output")
		return ""
	}
}

func TestSerialCommands(t *testing.T) {
	b, err := board.Assemble(context.Background(), nil, board.Deps{})
	require.NoError(t, err)

	s, err := NewSerial(b.Kernel, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	term, r := attach(t, s)

	// Banner, with no blank filler between the lines: CR translation on
	// the slave would split every \r\n in two.
	require.Contains(t, readLine(t, r), "emberos serial console")
	require.Equal(t, "type 'help' for commands", readLine(t, r))

	_, err = term.WriteString("ps\n")
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "PID")
	var names []string
	for i := 0; i < 3; i++ {
		names = append(names, readLine(t, r))
	}
	require.Contains(t, strings.Join(names, " "), "hello")
	require.Contains(t, strings.Join(names, " "), "crasher")

	_, err = term.WriteString("kernel\n")
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "clock")

	_, err = term.WriteString("stop 0.1\n")
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "ok 0.1")

	_, err = term.WriteString("stop 9.9\n")
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "error")

	_, err = term.WriteString("bogus\n")
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "unknown command")
}
