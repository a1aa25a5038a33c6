package vmmargs

import (
	"context"
	"testing"

	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
	"github.com/pipeops/vmmcore/resource"
)

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

func newArgs() *Arguments {
	return NewArguments(EnabledApiSocket("/tmp/api.sock"))
}

func TestApiSocketDisabledEmitsNoApi(t *testing.T) {
	args := NewArguments(DisabledApiSocket()).Join("")
	if !contains(args, "--no-api") {
		t.Errorf("expected --no-api, got %v", args)
	}
}

func TestApiSocketEnabledEmitsPath(t *testing.T) {
	args := newArgs().Join("")
	if !contains(args, "--api-sock") || !contains(args, "/tmp/api.sock") {
		t.Errorf("expected --api-sock /tmp/api.sock, got %v", args)
	}
}

func TestLogLevelCanBeSet(t *testing.T) {
	args := newArgs().LogLevel(LogError).Join("")
	if !contains(args, "--level") || !contains(args, "Error") {
		t.Errorf("expected --level Error, got %v", args)
	}
}

func TestShowLogOriginCanBeEnabled(t *testing.T) {
	args := newArgs().ShowLogOrigin().Join("")
	if !contains(args, "--show-log-origin") {
		t.Errorf("expected --show-log-origin, got %v", args)
	}
}

func TestModuleCanBeSet(t *testing.T) {
	args := newArgs().LogModule("some_module").Join("")
	if !contains(args, "--module") || !contains(args, "some_module") {
		t.Errorf("expected --module some_module, got %v", args)
	}
}

func TestBootTimerCanBeEnabled(t *testing.T) {
	args := newArgs().EnableBootTimer().Join("")
	if !contains(args, "--boot-timer") {
		t.Errorf("expected --boot-timer, got %v", args)
	}
}

func TestMaxPayloadCanBeSet(t *testing.T) {
	args := newArgs().ApiMaxPayloadBytes(1000).Join("")
	if !contains(args, "--http-api-max-payload-size") || !contains(args, "1000") {
		t.Errorf("expected --http-api-max-payload-size 1000, got %v", args)
	}
}

func TestMmdsSizeLimitCanBeSet(t *testing.T) {
	args := newArgs().MmdsSizeLimit(1000).Join("")
	if !contains(args, "--mmds-size-limit") || !contains(args, "1000") {
		t.Errorf("expected --mmds-size-limit 1000, got %v", args)
	}
}

func TestDefaultSeccompFilterEmitsNothing(t *testing.T) {
	args := newArgs().Join("")
	if contains(args, "--no-seccomp") {
		t.Errorf("default seccomp filter should not emit --no-seccomp, got %v", args)
	}
}

func TestSeccompFilterCanBeDisabled(t *testing.T) {
	args := newArgs().SeccompFilter(SeccompFilter{Mode: SeccompDisabled}).Join("")
	if !contains(args, "--no-seccomp") {
		t.Errorf("expected --no-seccomp, got %v", args)
	}
}

func TestConfigPathGetsAdded(t *testing.T) {
	args := newArgs().Join("/tmp/override_config.json")
	if !contains(args, "--config-file") || !contains(args, "/tmp/override_config.json") {
		t.Errorf("expected --config-file /tmp/override_config.json, got %v", args)
	}
}

func TestConfigPathOmittedWhenEmpty(t *testing.T) {
	args := newArgs().Join("")
	if contains(args, "--config-file") {
		t.Errorf("did not expect --config-file, got %v", args)
	}
}

func TestPciSupportDisabledByDefault(t *testing.T) {
	args := newArgs().Join("")
	if contains(args, "--enable-pci") {
		t.Errorf("did not expect --enable-pci, got %v", args)
	}
}

func TestPciSupportCanBeEnabled(t *testing.T) {
	args := newArgs().EnablePCISupport().Join("")
	if !contains(args, "--enable-pci") {
		t.Errorf("expected --enable-pci, got %v", args)
	}
}

func TestVmmIDEmitsId(t *testing.T) {
	args := newArgs().VmmID("my-vmm").Join("")
	if !contains(args, "--id") || !contains(args, "my-vmm") {
		t.Errorf("expected --id my-vmm, got %v", args)
	}
}

func withInitializedResource(t *testing.T, f func(path string, r *resource.Resource)) {
	t.Helper()
	sys := resource.New(procspawn.Direct{}, ownership.Shared())
	path := t.TempDir() + "/resource-file"
	r := sys.NewResource(path, resource.Created(resource.CreatedFile))
	if err := r.StartInitializationWithSamePath(); err != nil {
		t.Fatal(err)
	}
	if err := sys.Synchronize(context.Background()); err != nil {
		t.Fatal(err)
	}
	f(path, r)
}

func TestLogPathCanBeSet(t *testing.T) {
	withInitializedResource(t, func(path string, r *resource.Resource) {
		args := newArgs().Logs(r).Join("")
		if !contains(args, "--log-path") || !contains(args, path) {
			t.Errorf("expected --log-path %s, got %v", path, args)
		}
	})
}

func TestMetadataPathCanBeSet(t *testing.T) {
	withInitializedResource(t, func(path string, r *resource.Resource) {
		args := newArgs().Metadata(r).Join("")
		if !contains(args, "--metadata") || !contains(args, path) {
			t.Errorf("expected --metadata %s, got %v", path, args)
		}
	})
}

func TestMetricsPathCanBeSet(t *testing.T) {
	withInitializedResource(t, func(path string, r *resource.Resource) {
		args := newArgs().Metrics(r).Join("")
		if !contains(args, "--metrics-path") || !contains(args, path) {
			t.Errorf("expected --metrics-path %s, got %v", path, args)
		}
	})
}

func TestCustomSeccompFilterCanBeUsed(t *testing.T) {
	withInitializedResource(t, func(path string, r *resource.Resource) {
		args := newArgs().SeccompFilter(SeccompFilter{Mode: SeccompCustom, Resource: r}).Join("")
		if !contains(args, "--seccomp-filter") || !contains(args, path) {
			t.Errorf("expected --seccomp-filter %s, got %v", path, args)
		}
	})
}

func TestJoinPanicsOnUninitializedResource(t *testing.T) {
	sys := resource.New(procspawn.Direct{}, ownership.Shared())
	r := sys.NewResource("/tmp/never-initialized", resource.Created(resource.CreatedFile))

	defer func() {
		if recover() == nil {
			t.Error("expected Join to panic on an uninitialized resource")
		}
	}()
	newArgs().Logs(r).Join("")
}
