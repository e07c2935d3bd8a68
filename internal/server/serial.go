package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/emberworks/emberos/internal/kernel"
	"github.com/emberworks/emberos/internal/logging"
	"github.com/emberworks/emberos/internal/process"
)

// Serial is a line-oriented operator console on a pseudo-terminal.
// The daemon holds the master side; an operator attaches a terminal
// program to the slave device it logs at startup.
type Serial struct {
	kernel  *kernel.Kernel
	log     *logging.Logger
	ptmx    *os.File
	tty     *os.File
	started time.Time

	mu sync.Mutex // serializes writes against console line output
}

// NewSerial allocates the pty pair.
func NewSerial(k *kernel.Kernel, log *logging.Logger) (*Serial, error) {
	if log == nil {
		log = logging.Nop()
	}
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	// With echo on, everything the daemon prints would come straight
	// back through the line discipline as input.
	if err := rawInput(tty); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, fmt.Errorf("serial: %w", err)
	}
	return &Serial{
		kernel:  k,
		log:     log.Component("serial"),
		ptmx:    ptmx,
		tty:     tty,
		started: time.Now(),
	}, nil
}

// Device is the slave path an operator terminal attaches to.
func (s *Serial) Device() string {
	return s.tty.Name()
}

// WriteLine mirrors one application console line onto the serial
// port. Safe from the kernel goroutine.
func (s *Serial) WriteLine(name string, line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.ptmx, "[%s] %s\r\n", name, strings.TrimRight(string(line), "\n"))
}

// Run reads commands until ctx is canceled.
func (s *Serial) Run(ctx context.Context) error {
	s.log.Info("serial console ready", zap.String("device", s.Device()))
	s.printf("emberos serial console (device %s)\r\ntype 'help' for commands\r\n", s.Device())

	go func() {
		<-ctx.Done()
		s.ptmx.Close()
		s.tty.Close()
	}()

	scanner := bufio.NewScanner(s.ptmx)
	for scanner.Scan() {
		s.execute(strings.TrimSpace(scanner.Text()))
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func (s *Serial) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.ptmx, format, args...)
}

func (s *Serial) execute(line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		s.printf("commands:\r\n" +
			"  ps                      list processes\r\n" +
			"  info <pid>              one process in detail\r\n" +
			"  kernel                  board counters\r\n" +
			"  start|stop|restart <pid>\r\n" +
			"  uninstall <pid>\r\n" +
			"  uptime\r\n")
	case "ps":
		s.ps()
	case "info":
		s.info(args)
	case "kernel":
		s.kernelInfo()
	case "start", "stop", "restart", "uninstall":
		s.lifecycle(cmd, args)
	case "uptime":
		s.printf("up %s\r\n", time.Since(s.started).Round(time.Second))
	default:
		s.printf("unknown command %q, try 'help'\r\n", cmd)
	}
}

func (s *Serial) ps() {
	snap := s.kernel.Snapshot()
	var b strings.Builder
	tw := tabwriter.NewWriter(crlfWriter{&b}, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tSTATE\tPRI\tPOLICY\tSYSCALLS\tRESTARTS")
	for _, p := range snap.Processes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\n",
			p.Pid, p.Name, p.State, p.Priority, p.FaultPolicy,
			p.Counters.Syscalls, p.Counters.Restarts)
	}
	tw.Flush()
	s.printf("%s", b.String())
}

func (s *Serial) info(args []string) {
	id, ok := s.parsePid(args)
	if !ok {
		return
	}
	for _, p := range s.kernel.Snapshot().Processes {
		if p.Pid == id.String() {
			s.printf("pid %s name %s state %s priority %d policy %s\r\n",
				p.Pid, p.Name, p.State, p.Priority, p.FaultPolicy)
			s.printf("flash %s+%d ram %s+%d grants %d queue %d/%d\r\n",
				p.Flash.Start, p.Flash.Size, p.RAM.Start, p.RAM.Size,
				len(p.Grants), p.Queue.Len, p.Queue.Cap)
			if p.Completion != nil {
				s.printf("completion %d\r\n", *p.Completion)
			}
			return
		}
	}
	s.printf("no such process\r\n")
}

func (s *Serial) kernelInfo() {
	snap := s.kernel.Snapshot()
	s.printf("clock %d policy %s timeslice %d\r\n",
		snap.Kernel.Clock, snap.Kernel.Policy, snap.Kernel.Timeslice)
	s.printf("slots %d loaded %d active %d mpu switches %d refusals %d\r\n",
		snap.Kernel.Slots, snap.Kernel.Loaded, snap.Kernel.Active,
		snap.Kernel.MPUSwitches, snap.Kernel.MPURefusals)
}

func (s *Serial) lifecycle(cmd string, args []string) {
	id, ok := s.parsePid(args)
	if !ok {
		return
	}
	var err error
	switch cmd {
	case "start":
		id, err = s.kernel.StartProcess(id)
	case "stop":
		err = s.kernel.StopProcess(id)
	case "restart":
		id, err = s.kernel.RestartProcess(id)
	case "uninstall":
		err = s.kernel.UninstallProcess(id)
	}
	if err != nil {
		s.printf("error: %v\r\n", err)
		return
	}
	s.printf("ok %s\r\n", id)
}

func (s *Serial) parsePid(args []string) (process.ID, bool) {
	if len(args) != 1 {
		s.printf("usage: <command> <pid>\r\n")
		return process.ID{}, false
	}
	id, err := process.ParseID(args[0])
	if err != nil {
		s.printf("error: %v\r\n", err)
		return process.ID{}, false
	}
	return id, true
}

// rawInput turns off echo and CR translation on the operator side.
// Master writes pass through the slave's input discipline, where ICRNL
// would turn every \r\n the daemon sends into two newlines.
func rawInput(tty *os.File) error {
	tio, err := unix.IoctlGetTermios(int(tty.Fd()), unix.TCGETS)
	if err != nil {
		return err
	}
	tio.Lflag &^= unix.ECHO
	tio.Iflag &^= unix.ICRNL
	return unix.IoctlSetTermios(int(tty.Fd()), unix.TCSETS, tio)
}

// crlfWriter rewrites bare newlines for the terminal.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	out := strings.ReplaceAll(string(p), "\n", "\r\n")
	if _, err := c.w.Write([]byte(out)); err != nil {
		return 0, err
	}
	return len(p), nil
}
