// Command emberctl talks to a running emberd console.
//
// Usage:
//
//	emberctl [-addr http://localhost:8000] <command> [args]
//
// Commands:
//
//	ps                        list processes
//	kernel                    board counters and scheduler state
//	info <pid>                one process in detail
//	start|stop|restart <pid>  lifecycle operations
//	uninstall <pid>           vacate the process's slot
//	images                    list installable images on the daemon
//	install <ref|file> [policy [priority]]
//	watch                     follow the kernel trace stream
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/introspect"
)

func main() {
	addr := flag.String("addr", "http://localhost:8000", "emberd console address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := &ctl{client: resty.New().SetBaseURL(*addr), addr: *addr}

	var err error
	switch cmd := args[0]; cmd {
	case "ps":
		err = c.ps()
	case "kernel":
		err = c.kernel()
	case "info":
		err = c.info(args[1:])
	case "start", "stop", "restart", "uninstall":
		err = c.lifecycle(cmd, args[1:])
	case "images":
		err = c.images()
	case "install":
		err = c.install(args[1:])
	case "watch":
		err = c.watch()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "emberctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: emberctl [-addr url] ps|kernel|info|start|stop|restart|uninstall|images|install|watch [args]")
}

type ctl struct {
	client *resty.Client
	addr   string
}

// get issues a GET and decodes the JSON body into out.
func (c *ctl) get(path string, out interface{}) error {
	resp, err := c.client.R().SetResult(out).Get(path)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func checkStatus(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status(), body.Error)
	}
	return fmt.Errorf("%s", resp.Status())
}

func (c *ctl) ps() error {
	var out struct {
		Processes []introspect.ProcessInfo `json:"processes"`
	}
	if err := c.get("/api/processes", &out); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tSTATE\tPRI\tPOLICY\tSYSCALLS\tRESTARTS")
	for _, p := range out.Processes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\n",
			p.Pid, p.Name, p.State, p.Priority, p.FaultPolicy,
			p.Counters.Syscalls, p.Counters.Restarts)
	}
	return tw.Flush()
}

func (c *ctl) kernel() error {
	var out struct {
		Kernel  introspect.KernelInfo   `json:"kernel"`
		Drivers []introspect.DriverInfo `json:"drivers"`
	}
	if err := c.get("/api/kernel", &out); err != nil {
		return err
	}

	k := out.Kernel
	fmt.Printf("clock %d  policy %s  timeslice %d\n", k.Clock, k.Policy, k.Timeslice)
	fmt.Printf("slots %d  loaded %d  active %d\n", k.Slots, k.Loaded, k.Active)
	fmt.Printf("mpu switches %d  refusals %d  trace dropped %d\n",
		k.MPUSwitches, k.MPURefusals, k.TraceDropped)
	if len(k.CallCounts) > 0 {
		fmt.Print("syscalls:")
		for class, n := range k.CallCounts {
			fmt.Printf(" %s=%d", class, n)
		}
		fmt.Println()
	}
	for _, d := range out.Drivers {
		fmt.Printf("driver %d %s\n", d.ID, d.Name)
	}
	return nil
}

func (c *ctl) info(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <pid>")
	}
	var p introspect.ProcessInfo
	if err := c.get("/api/processes/"+args[0], &p); err != nil {
		return err
	}

	fmt.Printf("pid %s  name %s  state %s  priority %d  policy %s\n",
		p.Pid, p.Name, p.State, p.Priority, p.FaultPolicy)
	fmt.Printf("flash %s+%d  ram %s+%d  grant break %s\n",
		p.Flash.Start, p.Flash.Size, p.RAM.Start, p.RAM.Size, p.GrantBreak)
	fmt.Printf("syscalls %d  restarts %d  upcall queue %d/%d (delivered %d dropped %d)\n",
		p.Counters.Syscalls, p.Counters.Restarts,
		p.Queue.Len, p.Queue.Cap, p.Queue.Stats.Dequeued, p.Queue.Stats.Dropped)
	for _, g := range p.Grants {
		fmt.Printf("grant driver %d size %d\n", g.Driver, g.Size)
	}
	if p.Completion != nil {
		fmt.Printf("completion %d\n", *p.Completion)
	}
	return nil
}

func (c *ctl) lifecycle(cmd string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <pid>", cmd)
	}
	pid := args[0]

	var (
		resp *resty.Response
		err  error
	)
	if cmd == "uninstall" {
		resp, err = c.client.R().Delete("/api/processes/" + pid)
	} else {
		resp, err = c.client.R().Post("/api/processes/" + pid + "/" + cmd)
	}
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}

	var body struct {
		Pid string `json:"pid"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && body.Pid != "" {
		fmt.Println(body.Pid)
	}
	return nil
}

func (c *ctl) images() error {
	var out struct {
		Images []string `json:"images"`
	}
	if err := c.get("/api/images", &out); err != nil {
		return err
	}
	for _, img := range out.Images {
		fmt.Println(img)
	}
	return nil
}

func (c *ctl) install(args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return fmt.Errorf("usage: install <ref|file> [policy [priority]]")
	}
	ref := args[0]

	policy := ""
	priority := 0
	if len(args) > 1 {
		policy = args[1]
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("priority: %w", err)
		}
		priority = n
	}

	var (
		resp *resty.Response
		err  error
	)
	if raw, readErr := os.ReadFile(ref); readErr == nil {
		// A local file uploads directly; policy and priority ride in
		// its bundle manifest.
		resp, err = c.client.R().
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(raw).
			Post("/api/images")
	} else {
		resp, err = c.client.R().
			SetBody(map[string]interface{}{
				"ref":      ref,
				"policy":   policy,
				"priority": priority,
			}).
			Post("/api/images")
	}
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}

	var body struct {
		Pid  string `json:"pid"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return err
	}
	fmt.Printf("installed %s as %s\n", body.Name, body.Pid)
	return nil
}

func (c *ctl) watch() error {
	url := strings.Replace(c.addr, "http", "ws", 1) + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var ev tracing.Event
		if json.Unmarshal(data, &ev) != nil || ev.Kind == "" {
			// Control frames (welcome, pong) are not trace events.
			continue
		}
		line := fmt.Sprintf("%8d  %-9s", ev.Tick, ev.Kind)
		if ev.Pid != "" {
			line += fmt.Sprintf("  %s %s", ev.Pid, ev.Name)
		}
		if ev.Detail != "" {
			line += "  " + ev.Detail
		}
		fmt.Println(line)
	}
}
