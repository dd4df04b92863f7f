// Package dictionary describes the wordlist and capture files shared by the
// cluster: their size and checksum.
package dictionary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrNotRegular is returned when a path does not name a regular file.
var ErrNotRegular = errors.New("not a file")

// Descriptor identifies a file by path, size and checksum.
type Descriptor struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Matches reports whether size and checksum equal the descriptor's.
func (d *Descriptor) Matches(size int64, checksum string) bool {
	return d != nil && d.Size == size && d.Checksum == checksum
}

// Checksummer computes a file checksum.
type Checksummer interface {
	Checksum(ctx context.Context, path string) (string, error)
}

// NewChecksummer returns a CommandChecksummer when command is set and the
// built-in CRC-32 otherwise.
func NewChecksummer(command string) Checksummer {
	if strings.TrimSpace(command) == "" {
		return CRC32Checksummer{}
	}
	return CommandChecksummer{Command: command}
}

// Stat returns the size of the regular file at path.
func Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	return info.Size(), nil
}

// Describe stats path and computes its checksum.
func Describe(ctx context.Context, path string, sum Checksummer) (*Descriptor, error) {
	size, err := Stat(path)
	if err != nil {
		return nil, err
	}
	checksum, err := sum.Checksum(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", path, err)
	}
	return &Descriptor{Path: path, Size: size, Checksum: checksum}, nil
}

// CommandChecksummer runs an external utility as "<command> <path>" and takes
// the first token of its output.
type CommandChecksummer struct {
	Command string
}

// Checksum implements Checksummer.
func (c CommandChecksummer) Checksum(ctx context.Context, path string) (string, error) {
	fields := strings.Fields(c.Command)
	if len(fields) == 0 {
		return "", errors.New("checksum command is empty")
	}
	args := append(fields[1:], path)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", fields[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", fields[0], err)
	}

	out := strings.Fields(stdout.String())
	if len(out) == 0 {
		return "", fmt.Errorf("%s: empty output", fields[0])
	}
	return out[0], nil
}

// CRC32Checksummer computes the IEEE CRC-32 of a file in-process, formatted
// like the crc32 utility as eight lowercase hex digits.
type CRC32Checksummer struct{}

// Checksum implements Checksummer.
func (CRC32Checksummer) Checksum(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%08x", h.Sum32()), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
