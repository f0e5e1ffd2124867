// Command rv64sim runs RV64 ELF binaries on the emulated machine.
//
// With one binary it runs it to the riscv-tests verdict and exits 0 on
// pass, 1 on fail or timeout. With several binaries it runs the whole
// list as a suite. With a disk image attached it boots the binary as a
// kernel on an interactive console.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/term"

	"rv64sim/internal/boot"
	"rv64sim/internal/config"
	"rv64sim/internal/debugger"
	"rv64sim/internal/runner"
	"rv64sim/internal/rv64"
)

func main() {
	if err := run(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "rv64sim: %v\n", err)
		os.Exit(1)
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func run() error {
	var (
		configPath = flag.String("config", "", "machine config file (YAML)")
		diskPath   = flag.String("disk", "", "virtio block image")
		debugMode  = flag.Bool("debug", false, "enter the debugger on Ctrl-C and breakpoint traps")
		trace      = flag.Bool("trace", false, "verbose logging")
		timeout    = flag.Uint64("timeout", 0, "tick budget (0 = default)")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *trace {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	if flag.NArg() == 0 {
		return errors.New("usage: rv64sim [flags] program.elf ...")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *diskPath != "" {
		cfg.Disk = *diskPath
	}
	if *timeout != 0 {
		cfg.TickBudget = *timeout
	}

	// A disk image means a kernel boot: run on the live console instead of
	// the capture-and-classify path.
	if cfg.Disk != "" && flag.NArg() == 1 {
		return bootKernel(flag.Arg(0), cfg, *debugMode)
	}

	if flag.NArg() > 1 {
		if !runner.RunSuite(flag.Args(), cfg) {
			return &exitError{code: 1}
		}
		return nil
	}

	out, err := runner.RunFile(flag.Arg(0), cfg)
	if err != nil {
		return err
	}
	if out.Output != "" {
		fmt.Fprint(os.Stderr, out.Output)
	}
	slog.Info("run finished", "result", out.Result.String(), "tests", out.Tests, "ticks", out.Ticks)
	if out.Result != runner.Pass {
		return &exitError{code: 1}
	}
	return nil
}

// bootKernel runs an ELF as a kernel with the console on stderr and the
// block device attached. Without debugMode the run ends on Ctrl-C; with it,
// Ctrl-C enters the debugger and the run ends on a debugger quit.
func bootKernel(path string, cfg *config.Config, debugMode bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m := rv64.NewMachine(cfg.MemoryBytes(), os.Stderr)

	image, err := os.ReadFile(cfg.Disk)
	if err != nil {
		return fmt.Errorf("read disk image: %w", err)
	}
	m.AttachDisk(image)

	img, err := boot.LoadELF(f, m.MMU)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for addr, name := range img.Symbols {
		m.Hart.AddSymbol(addr, name)
	}
	m.Reset(img.Entry)

	// Raw mode keeps the guest console byte stream intact.
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			defer term.Restore(int(os.Stdin.Fd()), state)
		}
	}

	var interrupted atomic.Bool
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			interrupted.Store(true)
		}
	}()

	if debugMode {
		dbg := debugger.New()
		defer dbg.Close()
		m.Hart.Hook = dbg
		m.Hart.Interrupt = func() bool {
			return interrupted.Swap(false)
		}
	}

	slog.Info("booting", "kernel", path, "memoryMB", cfg.MemoryMB, "disk", cfg.Disk)

	for {
		m.Tick()
		if m.Hart.Halted() {
			return nil
		}
		if !debugMode && interrupted.Load() {
			return nil
		}
	}
}
