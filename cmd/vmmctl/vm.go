package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/pipeops/vmmcore/executor"
	"github.com/pipeops/vmmcore/fcconfig"
	"github.com/pipeops/vmmcore/installation"
	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
	"github.com/pipeops/vmmcore/resource"
	"github.com/pipeops/vmmcore/vm"
	"github.com/pipeops/vmmcore/vmmargs"
	"github.com/pipeops/vmmcore/vmmid"
	"github.com/spf13/cobra"
)

func newVMCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vm",
		Short: "Boot and manage a single microVM",
	}
	cmd.AddCommand(newVMRunCommand())
	return cmd
}

type vmRunOptions struct {
	kernelPath string
	initrdPath string
	bootArgs   string
	rootfsPath string
	vcpuCount  uint8
	memSize    string

	apiSocketPath string
	runDir        string

	jailed        bool
	jailID        string
	chrootBaseDir string
	uid           int
	gid           int
}

func newVMRunCommand() *cobra.Command {
	opts := &vmRunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot a microVM in the foreground and shut it down on interrupt",
		Long: `Boots a single microVM from the kernel and rootfs given on the command
line, waits for SIGINT/SIGTERM, then shuts it down and cleans up its
resources. This exercises vmmcore's full lifecycle: resource
preparation, process invocation, API-driven configuration, and
graceful shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVM(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.kernelPath, "kernel", "", "path to the kernel image (required)")
	cmd.Flags().StringVar(&opts.initrdPath, "initrd", "", "path to an initrd image (optional)")
	cmd.Flags().StringVar(&opts.bootArgs, "boot-args", "console=ttyS0 reboot=k panic=1 pci=off", "kernel boot arguments")
	cmd.Flags().StringVar(&opts.rootfsPath, "rootfs", "", "path to the root filesystem image (required)")
	cmd.Flags().Uint8Var(&opts.vcpuCount, "vcpu", 1, "vCPU count")
	cmd.Flags().StringVar(&opts.memSize, "mem", "128MiB", "guest memory size, e.g. 512MiB, 1GiB")
	cmd.Flags().StringVar(&opts.apiSocketPath, "api-socket", "", "path to the VMM API socket (default: <run-dir>/api.sock)")
	cmd.Flags().StringVar(&opts.runDir, "run-dir", "", "directory to stage resources in (default: a temp directory)")
	cmd.Flags().BoolVar(&opts.jailed, "jailed", false, "run the VMM through the jailer instead of directly")
	cmd.Flags().StringVar(&opts.jailID, "jail-id", "", "jail id (default: generated)")
	cmd.Flags().StringVar(&opts.chrootBaseDir, "chroot-base-dir", "", "jailer chroot base directory")
	cmd.Flags().IntVar(&opts.uid, "uid", 0, "uid the jailer drops privileges to")
	cmd.Flags().IntVar(&opts.gid, "gid", 0, "gid the jailer drops privileges to")

	cmd.MarkFlagRequired("kernel")
	cmd.MarkFlagRequired("rootfs")

	return cmd
}

func runVM(cmd *cobra.Command, opts *vmRunOptions) error {
	cfg, err := fcconfig.LoadFromFile(configPath)
	if err != nil {
		return err
	}
	fcconfig.LoadFromEnv(cfg)
	cfg.ApplyToLogger(log)
	logEntry := newLogger()

	memBytes, err := units.RAMInBytes(opts.memSize)
	if err != nil {
		return fmt.Errorf("invalid --mem %q: %w", opts.memSize, err)
	}
	memSizeMib := int(memBytes / units.MiB)

	runDir := opts.runDir
	if runDir == "" {
		runDir, err = os.MkdirTemp("", "vmmctl-")
		if err != nil {
			return fmt.Errorf("creating run directory: %w", err)
		}
	}
	apiSocketPath := opts.apiSocketPath
	if apiSocketPath == "" {
		apiSocketPath = filepath.Join(runDir, "api.sock")
	}

	inst := installation.Installation{
		FirecrackerPath:    cfg.Installation.FirecrackerBinary,
		JailerPath:         cfg.Installation.JailerBinary,
		SnapshotEditorPath: cfg.Installation.SnapshotEditorBinary,
	}

	model := ownership.Shared()
	if opts.jailed {
		model = ownership.Downgraded(opts.uid, opts.gid)
	}

	system := resource.New(procspawn.Direct{}, model)
	kernelResource := system.NewResource(opts.kernelPath, resource.Moved(resource.MovedCopy))
	rootfsResource := system.NewResource(opts.rootfsPath, resource.Moved(resource.MovedCopy))

	var initrdResource *resource.Resource
	if opts.initrdPath != "" {
		initrdResource = system.NewResource(opts.initrdPath, resource.Moved(resource.MovedCopy))
	}

	args := vmmargs.NewArguments(vmmargs.EnabledApiSocket(apiSocketPath)).
		LogLevel(vmmargs.LogInfo)

	var exec executor.VmmExecutor
	if opts.jailed {
		jailID := opts.jailID
		id, err := vmmidOrGenerate(jailID)
		if err != nil {
			return err
		}
		chrootBaseDir := opts.chrootBaseDir
		if chrootBaseDir == "" {
			chrootBaseDir = cfg.Jailer.ChrootBaseDir
		}
		jailerArgs := vmmargs.NewJailerArguments(opts.uid, opts.gid, id).ChrootBaseDir(chrootBaseDir)
		exec = executor.NewJailed(args, jailerArgs, executor.FlatJailRenamer{})
	} else {
		exec = executor.NewUnrestricted(args)
	}

	ectx := executor.Context{
		Installation: inst,
		Spawner:      procspawn.Direct{},
		Model:        model,
		System:       system,
	}

	bootSource := vm.BootSourceConfig{
		KernelImage: kernelResource,
		InitrdImage: initrdResource,
		BootArgs:    opts.bootArgs,
	}
	machineConfig := vm.MachineConfiguration{
		VcpuCount:  opts.vcpuCount,
		MemSizeMib: memSizeMib,
	}

	newConfig := vm.NewNewConfiguration(bootSource, machineConfig).
		WithDrive(vm.DriveConfig{
			DriveID:      "rootfs",
			IsRootDevice: true,
			Resource:     rootfsResource,
		})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	instance, err := vm.Prepare(ctx, exec, ectx, vm.Configuration{New: newConfig}, logEntry)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	if err := instance.Start(ctx, cfg.VM.ApiSocketWaitTimeout); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "vm running, api socket at", apiSocketPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	outcome, err := instance.Shutdown(shutdownCtx,
		vm.NewShutdownAction(vm.ShutdownCtrlAltDel()).WithGraceful(true).WithTimeout(10*time.Second),
		vm.NewShutdownAction(vm.ShutdownKill()),
	)
	if err != nil {
		logEntry.WithError(err).Warn("shutdown did not complete cleanly")
	} else if !outcome.FullyGraceful() {
		logEntry.Warn("vm exited ungracefully")
	}

	if err := instance.Cleanup(context.Background()); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func vmmidOrGenerate(id string) (vmmid.ID, error) {
	if id == "" {
		return vmmid.Generate("jail"), nil
	}
	return vmmid.New(id)
}
