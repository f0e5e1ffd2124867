// Package runner drives architectural test binaries to a verdict.
package runner

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"

	"rv64sim/internal/boot"
	"rv64sim/internal/config"
	"rv64sim/internal/rv64"
)

// Result classifies one run.
type Result int

const (
	Pass Result = iota
	Fail
	Timeout
)

func (r Result) String() string {
	switch r {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	}
	return "TIMEOUT"
}

// Outcome is the verdict of a single binary.
type Outcome struct {
	Result Result
	Tests  int    // number of test_* symbols crossed
	Ticks  uint64 // ticks consumed
	Last   string // last test_* symbol seen before the verdict
	Output string // captured console output
}

// Run executes a loaded image until the pass/fail symbols or the tohost
// doorbell classify it, or the tick budget runs out.
//
// The hand-shake follows the riscv-tests convention: the binary exports
// pass, fail and test_* symbols, and a tohost word that receives a
// nonzero value on completion (bit 0 set means failure). tohost is
// cleared after every read.
func Run(m *rv64.Machine, img *boot.Image, budget uint64) Outcome {
	if budget == 0 {
		budget = config.DefaultTickBudget
	}

	for addr, name := range img.Symbols {
		m.Hart.AddSymbol(addr, name)
	}
	tohost, hasTohost := img.Symbol("tohost")

	m.Reset(img.Entry)

	var out Outcome
	ram := m.MMU.RAM()
	ramBase := m.MMU.RAMBase()

	for out.Ticks = 0; out.Ticks < budget; out.Ticks++ {
		m.Tick()

		if hasTohost {
			val, err := ram.Read(tohost-ramBase, 4)
			if err == nil && val != 0 {
				ram.Write(tohost-ramBase, 4, 0)
				if val&1 != 0 {
					slog.Debug("tohost reported failure", "value", fmt.Sprintf("%#x", val))
					out.Result = Fail
					return out
				}
			}
		}

		if m.Hart.Stage.Kind != rv64.StageFetch {
			continue
		}
		name, ok := m.Hart.Symbol(m.Hart.PC)
		if !ok {
			continue
		}
		switch {
		case name == "pass":
			out.Result = Pass
			return out
		case name == "fail":
			out.Result = Fail
			return out
		case strings.HasPrefix(name, "test_") && name != out.Last:
			out.Tests++
			out.Last = name
		}
	}

	out.Result = Timeout
	return out
}

// RunFile loads and runs one ELF with a fresh machine, capturing console
// output.
func RunFile(path string, cfg *config.Config) (Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return Outcome{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var console bytes.Buffer
	m := rv64.NewMachine(cfg.MemoryBytes(), &console)

	if cfg.Disk != "" {
		image, err := os.ReadFile(cfg.Disk)
		if err != nil {
			return Outcome{}, fmt.Errorf("read disk image: %w", err)
		}
		m.AttachDisk(image)
	}

	img, err := boot.LoadELF(f, m.MMU)
	if err != nil {
		return Outcome{}, fmt.Errorf("load %s: %w", path, err)
	}

	out := Run(m, img, cfg.TickBudget)
	// Console bytes may carry guest escape sequences; keep the log clean.
	out.Output = ansi.Strip(console.String())
	return out, nil
}

// RunSuite runs a list of test binaries and reports whether all passed.
func RunSuite(paths []string, cfg *config.Config) bool {
	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("riscv-tests"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	allPassed := true
	for _, path := range paths {
		out, err := RunFile(path, cfg)
		if err != nil {
			slog.Error("case error", "case", path, "err", err)
			allPassed = false
			bar.Add(1)
			continue
		}

		if out.Result == Pass {
			slog.Info("case passed", "case", path, "tests", out.Tests, "ticks", out.Ticks)
		} else {
			slog.Error("case failed", "case", path, "result", out.Result.String(),
				"lastTest", out.Last, "output", out.Output)
			allPassed = false
		}
		bar.Add(1)
	}
	bar.Finish()

	return allPassed
}
