// Command mochisim boots the Mochi kernel core against a hosted HAL and
// drives the scheduler for a fixed number of ticks, printing which task
// runs at each step. It exists to exercise internal/kernel end to end
// without real ring-0 hardware.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/mastermochi/mochi/internal/bootinfo"
	"github.com/mastermochi/mochi/internal/kernel"
	"github.com/mastermochi/mochi/internal/klog"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/testhal"
)

func main() {
	var (
		ramMiB  = flag.Uint("ram-mib", 16, "simulated physical RAM size, in MiB")
		imgPath = flag.String("image", "", "path to a process image to load as pid 1 (defaults to a tiny built-in stub)")
		ticks   = flag.Int("ticks", 8, "number of scheduler ticks to drive")
		verbose = flag.BoolP("verbose", "v", false, "emit trace-level kernel log output")
	)
	flag.Parse()

	level := klog.Info
	if *verbose {
		level = klog.Trace
	}
	log := klog.New(os.Stderr, level)

	if err := run(*ramMiB, *imgPath, *ticks, *verbose, log); err != nil {
		fmt.Fprintln(os.Stderr, "mochisim:", err)
		os.Exit(1)
	}
}

func run(ramMiB uint, imgPath string, ticks int, verbose bool, log *klog.Logger) error {
	ramSize := uintptr(ramMiB) << 20
	h, _, err := testhal.New(ramSize)
	if err != nil {
		return fmt.Errorf("build hosted HAL: %w", err)
	}

	cfg := bootinfo.Config{
		Firmware: []bootinfo.FirmwareRegion{
			{Base: 0x0, Length: 0x9FC00, Type: bootinfo.TypeAvailable},
			{Base: 0x9FC00, Length: 0x400, Type: bootinfo.TypeReserved},
			{Base: 0x100000, Length: uint64(ramSize) - 0x100000, Type: bootinfo.TypeAvailable},
		},
	}

	k, err := kernel.Boot(cfg, h, nil, nil, log)
	if err != nil {
		return fmt.Errorf("boot kernel: %w", err)
	}

	image := []byte{0x90, 0x90, 0x90, 0x90} // four NOPs: a tiny built-in stub image
	if imgPath != "" {
		image, err = os.ReadFile(imgPath)
		if err != nil {
			return fmt.Errorf("read image %q: %w", imgPath, err)
		}
	}

	proc, taskID, kerr := k.Spawn(proctab.UserKind, image)
	if kerr != mkerr.None {
		return fmt.Errorf("spawn init process: %v", kerr)
	}
	fmt.Printf("spawned pid=%d task=%d entry=%#x\n", proc.PID, taskID, proc.EntryPoint)

	for i := 0; i < ticks; i++ {
		current, err := k.Tick()
		if err != nil {
			return fmt.Errorf("tick %d: %w", i, err)
		}
		fmt.Printf("tick %d: running task=%d\n", i, current)
	}

	if verbose {
		fmt.Fprintln(os.Stderr, k.DumpState())
	}
	return nil
}
