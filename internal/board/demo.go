package board

import (
	"fmt"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/exec"
	"github.com/emberworks/emberos/internal/kernel"
	"github.com/emberworks/emberos/internal/loader"
)

const builtinPrefix = "builtin:"

// Demo is the built-in board: a printer that exits cleanly, a
// periodic ticker, and a crasher restarting under policy, so a fresh
// checkout shows isolation, scheduling, and fault recovery without any
// image files.
func Demo() *Config {
	return &Config{
		Name: "demo",
		Apps: []AppConfig{
			{Image: "builtin:hello", Policy: "stop"},
			{Image: "builtin:ticker", Policy: "stop", Priority: 1},
			{Image: "builtin:crasher", Policy: "restart"},
		},
	}
}

// demoImage assembles a builtin image against the slot it will occupy;
// jump targets and data pointers are absolute addresses inside the
// slot's windows.
func demoImage(name string, regions kernel.SlotRegions) ([]byte, error) {
	switch name {
	case "hello":
		return helloImage(regions)
	case "ticker":
		return tickerImage(regions)
	case "crasher":
		return crasherImage(regions)
	}
	return nil, fmt.Errorf("no builtin image %q", name)
}

// textAddr is the physical address of instruction idx in the slot.
func textAddr(regions kernel.SlotRegions, idx int) uint32 {
	return uint32(regions.Flash.Start) + loader.HeaderSize + uint32(idx)*exec.InstrSize
}

// helloImage prints its message three times, one alarm period apart,
// then exits with completion 0.
func helloImage(regions kernel.SlotRegions) ([]byte, error) {
	msg := []byte("hello from ember\n")
	data := uint32(regions.RAM.Start)
	handler := textAddr(regions, 27)
	loop := textAddr(regions, 6)

	prog := exec.Program{
		exec.Movi(0, 0), // alarm
		exec.Movi(1, 0), // fired subscription
		exec.Movi(2, handler),
		exec.Movi(3, 0),
		exec.Ecall(abi.ClassSubscribe),
		exec.Movi(7, 3), // iterations
		// loop:
		exec.Movi(0, 1), // console
		exec.Movi(1, 0), // buffer 0
		exec.Movi(2, data),
		exec.Movi(3, uint32(len(msg))),
		exec.Ecall(abi.ClassAllowReadOnly),
		exec.Movi(0, 1),
		exec.Movi(1, 1), // write
		exec.Movi(2, uint32(len(msg))),
		exec.Ecall(abi.ClassCommand),
		exec.Movi(0, 0),
		exec.Movi(1, 2), // arm relative
		exec.Movi(2, 40),
		exec.Ecall(abi.ClassCommand),
		exec.Movi(0, uint32(abi.YieldWait)),
		exec.Ecall(abi.ClassYield),
		exec.Movi(6, 1),
		exec.Sub(7, 7, 6),
		exec.Jnz(7, loop),
		exec.Movi(0, uint32(abi.ExitTerminate)),
		exec.Movi(1, 0),
		exec.Ecall(abi.ClassExit),
		// handler:
		exec.Retu(),
	}
	return loader.BuildImage(loader.ImageSpec{Name: "hello", Text: prog.Bytes(), Data: msg})
}

// tickerImage prints forever, one line per alarm period.
func tickerImage(regions kernel.SlotRegions) ([]byte, error) {
	msg := []byte("tick\n")
	data := uint32(regions.RAM.Start)
	handler := textAddr(regions, 21)
	loop := textAddr(regions, 5)

	prog := exec.Program{
		exec.Movi(0, 0),
		exec.Movi(1, 0),
		exec.Movi(2, handler),
		exec.Movi(3, 0),
		exec.Ecall(abi.ClassSubscribe),
		// loop:
		exec.Movi(0, 1),
		exec.Movi(1, 0),
		exec.Movi(2, data),
		exec.Movi(3, uint32(len(msg))),
		exec.Ecall(abi.ClassAllowReadOnly),
		exec.Movi(0, 1),
		exec.Movi(1, 1),
		exec.Movi(2, uint32(len(msg))),
		exec.Ecall(abi.ClassCommand),
		exec.Movi(0, 0),
		exec.Movi(1, 2),
		exec.Movi(2, 25),
		exec.Ecall(abi.ClassCommand),
		exec.Movi(0, uint32(abi.YieldWait)),
		exec.Ecall(abi.ClassYield),
		exec.Jmp(loop),
		// handler:
		exec.Retu(),
	}
	return loader.BuildImage(loader.ImageSpec{Name: "ticker", Text: prog.Bytes(), Data: msg})
}

// crasherImage stores into its own flash, which no process may write,
// so it faults immediately and exercises the restart path.
func crasherImage(regions kernel.SlotRegions) ([]byte, error) {
	prog := exec.Program{
		exec.Movi(2, uint32(regions.Flash.Start)),
		exec.Store(0, 2, 0),
	}
	return loader.BuildImage(loader.ImageSpec{Name: "crasher", Text: prog.Bytes()})
}
