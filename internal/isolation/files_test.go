package isolation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/isolation"
	"github.com/jae464/vibe-judge/internal/isolation/mock"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "main.py", "/workspace/main.py", false},
		{"nested", "src/lib/util.c", "/workspace/src/lib/util.c", false},
		{"dot segments inside", "a/../b.txt", "/workspace/b.txt", false},
		{"leading dash", "-rf", "/workspace/-rf", false},
		{"empty", "", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"parent escape", "../secret", "", true},
		{"deep escape", "a/../../secret", "", true},
		{"dot", ".", "", true},
		{"nul byte", "a\x00b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := isolation.ResolvePath("/workspace", tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrInvalidFilename))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	rt := mock.New()
	ctx := context.Background()
	env, err := rt.Create(ctx, isolation.Spec{Image: "alpine"})
	require.NoError(t, err)

	contents := [][]byte{
		[]byte("it's a `backtick` and \"quote\"\n$(rm -rf /)\n"),
		[]byte("line1\r\nline2\n\n"),
		{0x00, 0xff, 0x10, '\'', '\n'},
		{},
	}

	for i, content := range contents {
		require.NoError(t, isolation.WriteFile(ctx, rt, env, "dir/file.txt", content), "case %d", i)
		got, err := isolation.ReadFile(ctx, rt, env, "dir/file.txt", 0)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, content, got, "case %d", i)
	}

	// content never appears on the command line
	for _, call := range rt.Execs {
		for _, arg := range call.Req.Cmd {
			assert.NotContains(t, arg, "backtick")
		}
	}
}

func TestReadFileMissing(t *testing.T) {
	rt := mock.New()
	ctx := context.Background()
	env, err := rt.Create(ctx, isolation.Spec{})
	require.NoError(t, err)

	_, err = isolation.ReadFile(ctx, rt, env, "nope.txt", 0)
	assert.Error(t, err)
}

func TestWriteFileRejectsEscape(t *testing.T) {
	rt := mock.New()
	ctx := context.Background()
	env, err := rt.Create(ctx, isolation.Spec{})
	require.NoError(t, err)

	err = isolation.WriteFile(ctx, rt, env, "../../etc/passwd", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidFilename)
	assert.Empty(t, rt.Execs)
}
