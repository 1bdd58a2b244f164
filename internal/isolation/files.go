package isolation

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jae464/vibe-judge/internal/domain"
)

const fileOpTimeout = 15 * time.Second

// ResolvePath maps a caller supplied file name onto an absolute path inside workDir.
// Absolute names, parent escapes and NUL bytes are rejected.
func ResolvePath(workDir, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidFilename, name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidFilename, name)
	}
	if workDir == "" {
		workDir = DefaultWorkDir
	}
	return path.Join(workDir, cleaned), nil
}

// WriteFileCommand is the argv used to store base64 stdin at target. The path
// travels as a positional argument, never as part of the script text.
func WriteFileCommand(target string) []string {
	return []string{"sh", "-c", `mkdir -p "$(dirname "$1")" && base64 -d > "$1"`, "sh", target}
}

// ReadFileCommand is the argv used to emit target as base64 on stdout.
func ReadFileCommand(target string) []string {
	return []string{"base64", target}
}

// WriteFile stores content at name inside env. Content crosses the boundary
// base64 encoded over stdin so arbitrary bytes survive untouched.
func WriteFile(ctx context.Context, rt Runtime, env *Environment, name string, content []byte) error {
	target, err := ResolvePath(env.WorkDir, name)
	if err != nil {
		return err
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(content)))
	base64.StdEncoding.Encode(encoded, content)

	res, err := rt.Exec(ctx, env, ExecRequest{
		Cmd:     WriteFileCommand(target),
		Stdin:   encoded,
		Timeout: fileOpTimeout,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if res.TimedOut || res.ExitCode != 0 {
		return fmt.Errorf("write %s: exit code %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ReadFile returns the bytes stored at name inside env.
func ReadFile(ctx context.Context, rt Runtime, env *Environment, name string, maxBytes int) ([]byte, error) {
	target, err := ResolvePath(env.WorkDir, name)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}

	res, err := rt.Exec(ctx, env, ExecRequest{
		Cmd:            ReadFileCommand(target),
		Timeout:        fileOpTimeout,
		MaxOutputBytes: base64.StdEncoding.EncodedLen(maxBytes) + base64.StdEncoding.EncodedLen(maxBytes)/76 + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if res.TimedOut || res.ExitCode != 0 {
		return nil, fmt.Errorf("read %s: exit code %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if res.StdoutTruncated {
		return nil, fmt.Errorf("read %s: file larger than %d bytes", name, maxBytes)
	}

	// base64(1) wraps lines; strip all whitespace before decoding.
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(res.Stdout), ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return data, nil
}
