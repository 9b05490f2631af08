// Package cmd wires the loader's cobra command line to the component
// pipeline: manifest → sandbox → ELF load → trampoline → validator →
// session, in that order, with teardown in reverse.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerovm-go/loader/internal/account"
	"github.com/zerovm-go/loader/internal/cliflags"
	"github.com/zerovm-go/loader/internal/elfload"
	"github.com/zerovm-go/loader/internal/fault"
	"github.com/zerovm-go/loader/internal/manifest"
	"github.com/zerovm-go/loader/internal/sandbox"
	"github.com/zerovm-go/loader/internal/session"
	"github.com/zerovm-go/loader/internal/trampoline"
	"github.com/zerovm-go/loader/internal/validator"
)

var flags cliflags.Flags

// dispatchGate is the (placeholder) syscall-gate instruction sequence
// tiled across the trampoline page. A real build supplies the compiled
// gate for its architecture; this one is just long enough to exercise
// tiling and patching.
var dispatchGate = []byte{0x0F, 0x05, 0xC3} // syscall; ret

// dispatchThunkTemplate is the (placeholder) compiled dispatch-thunk
// body patched with the trap handler's real address before mapping it
// executable.
var dispatchThunkTemplate = make([]byte, 64)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loader",
		Short:         "Load and run a sandboxed guest image against a manifest",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
	}

	pf := root.Flags()
	pf.StringVarP(&flags.Manifest, "manifest", "M", "", "manifest file path (required)")
	pf.BoolVarP(&flags.SkipValidation, "skip-validation", "s", false, "skip code validation; record verdict 2")
	pf.BoolVarP(&flags.FuzzLoad, "fuzz-load", "F", false, "load and validate but do not execute")
	pf.BoolVarP(&flags.NoSignals, "no-signals", "S", false, "disable signal handling")
	pf.IntVarP(&flags.StorageCapGiB, "storage-cap", "l", 0, "cap total storage use at N GiB")
	pf.IntVarP(&flags.Verbosity, "verbosity", "v", 0, "log verbosity")
	pf.BoolVarP(&flags.SkipQualify, "skip-qualify", "Q", false, "skip platform qualification tests")
	pf.BoolVarP(&flags.NoPreallocation, "no-prealloc", "P", false, "disable channel disk-space preallocation")

	return root
}

// Execute runs the loader and returns the process exit code spec.md §6
// specifies: 0 for a clean guest exit, the guest's own 32-bit return code
// when one is available, or one of the fixed errno-named codes.
func Execute() int {
	root := newRootCmd()
	code := 0
	root.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := runLoader(cmd, args)
		code = c
		return err
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code == 0 {
			code = cliflags.ExitSetupFault
		}
	}
	return code
}

func runLoader(cmd *cobra.Command, args []string) (int, error) {
	if err := flags.Validate(); err != nil {
		return cliflags.ExitInvalidArgs, err
	}

	log := account.NewLogger(cmd.ErrOrStderr(), flags.Verbosity)
	log.WithField("args", os.Args).Debug("loader invoked")

	mft, kind, err := openManifest(flags.Manifest)
	if err != nil {
		account.LogError(log, kind, err)
		return cliflags.ExitForError(kind), err
	}

	program, _ := mft.Get("Program")
	img, kind, err := readProgramImage(program)
	if err != nil {
		account.LogError(log, kind, err)
		return cliflags.ExitForError(kind), err
	}

	as, err := sandbox.Reserve(sandbox.DefaultAddrBits, sandbox.Sizes{
		Text:    sandbox.Quantum * 16,
		RoData:  sandbox.Quantum * 4,
		Heap:    sandbox.Quantum * 64,
		SysData: sandbox.Quantum,
		Stack:   sandbox.DefaultStackMax,
	})
	if err != nil {
		account.LogError(log, account.BadManifest, err)
		return cliflags.ExitForError(account.BadManifest), err
	}
	defer as.Release()

	res, err := elfload.Load(img, as, elfload.DefaultProfile, 32)
	if err != nil {
		account.LogError(log, account.BadELF, err)
		return cliflags.ExitForError(account.BadELF), err
	}

	trampolinePage := as.SliceAt(as.UserToHost(res.StaticTextStart), sandbox.PageSize)
	if err := trampoline.TileGates(trampolinePage, dispatchGate); err != nil {
		account.LogError(log, account.BadELF, err)
		return cliflags.ExitForError(account.BadELF), err
	}

	thunk, err := trampoline.MakeDispatchThunk(dispatchThunkTemplate, trampoline.Info{
		NBytes: uintptr(len(dispatchThunkTemplate)),
	})
	if err != nil {
		account.LogError(log, account.BadManifest, err)
		return cliflags.ExitForError(account.BadManifest), err
	}
	defer trampoline.FreeDispatchThunk(thunk)

	verdict, err := validator.Validate(as, res, validator.BasicChecker{}, flags.SkipValidation)
	if err != nil {
		account.LogError(log, account.BadText, err)
		return cliflags.ExitForError(account.BadText), err
	}
	log.WithField("verdict", verdict.String()).Info("validation")

	for _, ch := range mustChannels(mft) {
		account.LogChannel(log, ch)
	}

	if flags.FuzzLoad {
		account.LogOK(log)
		return cliflags.ExitOK, nil
	}

	if err := as.Finalize(); err != nil {
		account.LogError(log, account.BadManifest, err)
		return cliflags.ExitForError(account.BadManifest), err
	}

	var release func()
	if !flags.NoSignals {
		chain := fault.NewChain()
		release, err = fault.Install(chain, as, log)
		if err != nil {
			account.LogError(log, account.BadManifest, err)
			return cliflags.ExitForError(account.BadManifest), err
		}
		defer release()
	}

	stackBlock := as.Block(sandbox.Stack)
	st, err := session.BuildStack(as, stackBlock, args, os.Environ(), res.InitialEntryPt, thunk.Addr)
	if err != nil {
		account.LogError(log, account.BadManifest, err)
		return cliflags.ExitForError(account.BadManifest), err
	}

	sess := session.New(session.ThreadContext{PC: res.InitialEntryPt, SP: st.SP})
	state, err := sess.Run(session.NewLauncher())
	if err != nil {
		account.LogError(log, account.GuestFault, err)
		return cliflags.ExitForError(account.GuestFault), err
	}
	if state.Faulted {
		account.LogError(log, account.GuestFault, fmt.Errorf("guest fault: %s", state.FaultTag))
		return cliflags.ExitForError(account.GuestFault), nil
	}

	account.LogOK(log)
	return int(state.ExitCode), nil
}

func openManifest(path string) (*manifest.Manifest, account.ErrorKind, error) {
	mft, err := manifest.Open(path)
	if err != nil {
		return nil, account.BadManifest, err
	}
	if v, ok := mft.Get("Version"); !ok || v != manifest.Version {
		return nil, account.BadVersion, fmt.Errorf("manifest: version %q does not match required %q", v, manifest.Version)
	}
	return mft, "", nil
}

func readProgramImage(path string) ([]byte, account.ErrorKind, error) {
	if path == "" {
		return nil, account.BadManifest, fmt.Errorf("manifest: missing required Program entry")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, account.MissingFile, fmt.Errorf("program image: %w", err)
	}
	if info.Size() == 0 || info.Size() > manifest.LargestNexe {
		return nil, account.MissingFile, fmt.Errorf("program image %s: too large nexe", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, account.MissingFile, fmt.Errorf("reading program image: %w", err)
	}
	return data, "", nil
}

func mustChannels(mft *manifest.Manifest) []manifest.Channel {
	chans, err := mft.Channels()
	if err != nil {
		return nil
	}
	return chans
}
