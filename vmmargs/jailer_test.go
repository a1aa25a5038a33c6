package vmmargs

import (
	"testing"

	"github.com/pipeops/vmmcore/vmmid"
)

func newJailerArgs(t *testing.T) *JailerArguments {
	t.Helper()
	id, err := vmmid.New("jail-id")
	if err != nil {
		t.Fatal(err)
	}
	return NewJailerArguments(1, 1, id)
}

func checkJailer(t *testing.T, args *JailerArguments, matchers ...string) {
	t.Helper()
	joined := args.Join("/tmp/firecracker")
	if !contains(joined, "--exec-file") || !contains(joined, "/tmp/firecracker") {
		t.Errorf("expected --exec-file /tmp/firecracker, got %v", joined)
	}
	for _, m := range matchers {
		if !contains(joined, m) {
			t.Errorf("expected %q in %v", m, joined)
		}
	}
}

func TestUidGidJailIdArePushed(t *testing.T) {
	checkJailer(t, newJailerArgs(t), "--uid", "1", "--gid", "--id", "jail-id")
}

func TestCgroupValuesCanBeSet(t *testing.T) {
	checkJailer(t, newJailerArgs(t).Cgroup("key", "value"), "--cgroup", "key=value")
}

func TestCgroupVersionCanBeSet(t *testing.T) {
	checkJailer(t, newJailerArgs(t).CgroupVersion(CgroupV1), "--cgroup-version", "1")
	checkJailer(t, newJailerArgs(t).CgroupVersion(CgroupV2), "--cgroup-version", "2")
}

func TestChrootBaseDirCanBeSet(t *testing.T) {
	checkJailer(t, newJailerArgs(t).ChrootBaseDir("/tmp/chroot"), "--chroot-base-dir", "/tmp/chroot")
}

func TestDaemonizeCanBeEnabled(t *testing.T) {
	checkJailer(t, newJailerArgs(t).Daemonize(), "--daemonize")
}

func TestNetnsCanBeSet(t *testing.T) {
	checkJailer(t, newJailerArgs(t).NetworkNamespacePath("/var/run/netns"), "--netns", "/var/run/netns")
}

func TestExecInNewPidNsCanBeEnabled(t *testing.T) {
	checkJailer(t, newJailerArgs(t).ExecInNewPidNS(), "--new-pid-ns")
}

func TestParentCgroupCanBeSet(t *testing.T) {
	checkJailer(t, newJailerArgs(t).ParentCgroup("parent_cgroup"), "--parent-cgroup", "parent_cgroup")
}

func TestResourceLimitsCanBeSet(t *testing.T) {
	checkJailer(t, newJailerArgs(t).ResourceLimit("key", "value"), "--resource-limit", "key=value")
}

func TestJailIdAccessor(t *testing.T) {
	args := newJailerArgs(t)
	if args.JailID() != "jail-id" {
		t.Errorf("expected jail-id, got %s", args.JailID())
	}
}
