package docker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jae464/vibe-judge/internal/isolation"
)

func TestWrapTimeout(t *testing.T) {
	cmd := []string{"python3", "solution.py"}

	assert.Equal(t, cmd, wrapTimeout(cmd, 0))
	assert.Equal(t,
		[]string{"timeout", "-s", "KILL", "1.500", "python3", "solution.py"},
		wrapTimeout(cmd, 1500*time.Millisecond),
	)
	// original slice is not modified
	assert.Equal(t, []string{"python3", "solution.py"}, cmd)
}

func TestClassifyExit(t *testing.T) {
	limit := time.Second
	tests := []struct {
		name        string
		code        int
		elapsed     time.Duration
		timeout     time.Duration
		wantTimeout bool
		wantOOM     bool
	}{
		{"clean exit", 0, 100 * time.Millisecond, limit, false, false},
		{"runtime error", 1, 100 * time.Millisecond, limit, false, false},
		{"timeout exit status", 124, limit, limit, true, false},
		{"program exits 124 early", 124, 5 * time.Millisecond, limit, false, false},
		{"exit 124 without deadline", 124, 5 * time.Millisecond, 0, false, false},
		{"killed after deadline", 137, limit + 10*time.Millisecond, limit, true, false},
		{"killed before deadline", 137, 300 * time.Millisecond, limit, false, true},
		{"killed without deadline", 137, 300 * time.Millisecond, 0, false, true},
		{"segfault", 139, 10 * time.Millisecond, limit, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timedOut, oom := classifyExit(tt.code, tt.elapsed, tt.timeout)
			assert.Equal(t, tt.wantTimeout, timedOut)
			assert.Equal(t, tt.wantOOM, oom)
		})
	}
}

func TestHostConfigAppliesLimits(t *testing.T) {
	spec := isolation.Spec{
		Image:           "python:3.12-slim",
		MemoryLimitMB:   256,
		CPUs:            0.5,
		PidsLimit:       64,
		NetworkDisabled: true,
		WorkDir:         "/workspace",
	}
	hc := hostConfig(spec, 64)

	assert.Equal(t, int64(256*1024*1024), hc.Resources.Memory)
	assert.Equal(t, hc.Resources.Memory, hc.Resources.MemorySwap)
	assert.Equal(t, int64(500_000_000), hc.Resources.NanoCPUs)
	if assert.NotNil(t, hc.Resources.PidsLimit) {
		assert.Equal(t, int64(64), *hc.Resources.PidsLimit)
	}
	assert.Equal(t, "none", string(hc.NetworkMode))
	assert.Contains(t, hc.SecurityOpt, "no-new-privileges")
	assert.Equal(t, "rw,exec,nosuid,size=64m", hc.Tmpfs["/workspace"])
}

func TestHostConfigUnlimited(t *testing.T) {
	hc := hostConfig(isolation.Spec{Image: "alpine", WorkDir: "/workspace"}, 64)

	assert.Zero(t, hc.Resources.Memory)
	assert.Zero(t, hc.Resources.NanoCPUs)
	assert.Nil(t, hc.Resources.PidsLimit)
	assert.Empty(t, string(hc.NetworkMode))
}

func TestContainerConfigIdles(t *testing.T) {
	cfg := containerConfig(isolation.Spec{Image: "alpine", WorkDir: "/workspace"}, map[string]string{LabelManaged: "true"})

	assert.Equal(t, "alpine", cfg.Image)
	assert.Equal(t, []string{"sleep"}, []string(cfg.Entrypoint))
	assert.Equal(t, []string{idleSeconds}, []string(cfg.Cmd))
	assert.Equal(t, "true", cfg.Labels[LabelManaged])
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
}

// fakeInspector reports the exec as running for the first runningPolls calls.
type fakeInspector struct {
	runningPolls int
	exitCode     int
	err          error
	calls        int
}

func (f *fakeInspector) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.calls++
	if f.err != nil {
		return container.ExecInspect{}, f.err
	}
	if f.calls <= f.runningPolls {
		return container.ExecInspect{ExecID: execID, Running: true}, nil
	}
	return container.ExecInspect{ExecID: execID, ExitCode: f.exitCode}, nil
}

func TestWaitExitFinished(t *testing.T) {
	fake := &fakeInspector{exitCode: 3}

	code, waited, err := waitExit(context.Background(), fake, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.False(t, waited)
	assert.Equal(t, 1, fake.calls)
}

func TestWaitExitKeepsPollingPastStreamClose(t *testing.T) {
	// Still running for most of a second after the streams closed.
	fake := &fakeInspector{runningPolls: 8, exitCode: 1}

	code, waited, err := waitExit(context.Background(), fake, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.True(t, waited)
	assert.Equal(t, 9, fake.calls)
}

func TestWaitExitStillRunningAtDeadline(t *testing.T) {
	fake := &fakeInspector{runningPolls: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	code, _, err := waitExit(ctx, fake, "exec-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, code)
}

func TestWaitExitInspectError(t *testing.T) {
	fake := &fakeInspector{err: errors.New("daemon gone")}

	_, _, err := waitExit(context.Background(), fake, "exec-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon gone")
}
