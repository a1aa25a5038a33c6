//go:build linux

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pipeops/vmmcore/procspawn"
)

func TestJailedInvokeDaemonizedReturnsDetachedHandle(t *testing.T) {
	chrootBaseDir := t.TempDir()
	j, ectx := newJailed(t, chrootBaseDir)
	j.JailerArguments.Daemonize()

	if err := j.Prepare(context.Background(), ectx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	_, jailPath := j.getPaths(ectx.Installation)

	bg, err := (procspawn.Direct{}).Spawn(context.Background(), "/bin/sleep", []string{"30"}, procspawn.StdioNull)
	if err != nil {
		t.Fatalf("spawn background process: %v", err)
	}
	defer bg.Cmd.Process.Kill()
	bgPid := bg.Cmd.Process.Pid

	pidFilePath := filepath.Join(jailPath, "true.pid")
	scriptPath := filepath.Join(t.TempDir(), "fake-jailer.sh")
	script := fmt.Sprintf("#!/bin/sh\necho %d > %s\nexit 0\n", bgPid, pidFilePath)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	ectx.Installation.JailerPath = scriptPath

	handle, err := j.Invoke(context.Background(), ectx, "")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !handle.IsDetached() {
		t.Error("expected detached handle for a daemonizing jailer")
	}

	if err := handle.SendSigkill(); err != nil {
		t.Fatalf("sigkill: %v", err)
	}
	if _, err := handle.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
