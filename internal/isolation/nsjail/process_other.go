//go:build !linux

package nsjail

import "os/exec"

// nsjail only exists on Linux; elsewhere the default cancel behaviour applies.
func setProcessGroup(cmd *exec.Cmd) {}
