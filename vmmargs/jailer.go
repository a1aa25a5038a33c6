package vmmargs

import (
	"fmt"

	"github.com/pipeops/vmmcore/vmmid"
)

// CgroupVersion selects which cgroup hierarchy version the jailer targets.
type CgroupVersion int

const (
	CgroupV1 CgroupVersion = iota
	CgroupV2
)

// JailerArguments is a typed builder for the arguments passed to the
// jailer binary.
type JailerArguments struct {
	uid, gid int
	jailID   vmmid.ID

	cgroupValues   map[string]string
	cgroupVersion  *CgroupVersion
	chrootBaseDir  string
	daemonize      bool
	netnsPath      string
	newPidNS       bool
	parentCgroup   string
	resourceLimits map[string]string
}

// NewJailerArguments starts a builder for the jailer process that will
// run the VMM as uid/gid under jailID.
func NewJailerArguments(uid, gid int, jailID vmmid.ID) *JailerArguments {
	return &JailerArguments{
		uid:            uid,
		gid:            gid,
		jailID:         jailID,
		cgroupValues:   make(map[string]string),
		resourceLimits: make(map[string]string),
	}
}

// Cgroup sets a single cgroup K=V pair, passed via --cgroup.
func (j *JailerArguments) Cgroup(key, value string) *JailerArguments {
	j.cgroupValues[key] = value
	return j
}

// CgroupVersion sets --cgroup-version.
func (j *JailerArguments) CgroupVersion(version CgroupVersion) *JailerArguments {
	j.cgroupVersion = &version
	return j
}

// ChrootBaseDir sets --chroot-base-dir.
func (j *JailerArguments) ChrootBaseDir(dir string) *JailerArguments {
	j.chrootBaseDir = dir
	return j
}

// Daemonize enables --daemonize.
func (j *JailerArguments) Daemonize() *JailerArguments {
	j.daemonize = true
	return j
}

// NetworkNamespacePath sets --netns.
func (j *JailerArguments) NetworkNamespacePath(path string) *JailerArguments {
	j.netnsPath = path
	return j
}

// ExecInNewPidNS enables --new-pid-ns.
func (j *JailerArguments) ExecInNewPidNS() *JailerArguments {
	j.newPidNS = true
	return j
}

// ParentCgroup sets --parent-cgroup.
func (j *JailerArguments) ParentCgroup(parent string) *JailerArguments {
	j.parentCgroup = parent
	return j
}

// ResourceLimit sets a single resource-limit K=V pair, passed via
// --resource-limit.
func (j *JailerArguments) ResourceLimit(key, value string) *JailerArguments {
	j.resourceLimits[key] = value
	return j
}

// GetChrootBaseDir returns the configured chroot base directory, or "" if
// ChrootBaseDir was never called, leaving the default up to the caller.
func (j *JailerArguments) GetChrootBaseDir() string { return j.chrootBaseDir }

// JailID returns the validated jail id these arguments were built with.
func (j *JailerArguments) JailID() vmmid.ID { return j.jailID }

// NewPidNS reports whether --new-pid-ns was requested, used by the jailed
// executor to decide whether the spawned process must be treated as
// detached.
func (j *JailerArguments) NewPidNS() bool { return j.newPidNS }

// Daemonized reports whether --daemonize was requested.
func (j *JailerArguments) Daemonized() bool { return j.daemonize }

// Join emits the argument vector to invoke the jailer against the given
// VMM binary path.
func (j *JailerArguments) Join(vmmBinaryPath string) []string {
	args := make([]string, 0, 8)
	args = append(args, "--exec-file", vmmBinaryPath)
	args = append(args, "--uid", fmt.Sprint(j.uid))
	args = append(args, "--gid", fmt.Sprint(j.gid))
	args = append(args, "--id", string(j.jailID))

	for key, value := range j.cgroupValues {
		args = append(args, "--cgroup", fmt.Sprintf("%s=%s", key, value))
	}

	if j.cgroupVersion != nil {
		version := "1"
		if *j.cgroupVersion == CgroupV2 {
			version = "2"
		}
		args = append(args, "--cgroup-version", version)
	}

	if j.chrootBaseDir != "" {
		args = append(args, "--chroot-base-dir", j.chrootBaseDir)
	}

	if j.daemonize {
		args = append(args, "--daemonize")
	}

	if j.netnsPath != "" {
		args = append(args, "--netns", j.netnsPath)
	}

	if j.newPidNS {
		args = append(args, "--new-pid-ns")
	}

	if j.parentCgroup != "" {
		args = append(args, "--parent-cgroup", j.parentCgroup)
	}

	for key, value := range j.resourceLimits {
		args = append(args, "--resource-limit", fmt.Sprintf("%s=%s", key, value))
	}

	return args
}
