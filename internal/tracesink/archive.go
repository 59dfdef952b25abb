// internal/tracesink/archive.go
package tracesink

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Archive compresses path into path+".zst". When removeSource is set the
// plain file is deleted after the archive is synced.
func Archive(path string, removeSource bool) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open trace for archive: %w", err)
	}
	defer src.Close()

	dst := path + ArchiveSuffix
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		out.Close()
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		out.Close()
		return "", fmt.Errorf("compress trace: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("finish archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	if removeSource {
		src.Close()
		if err := os.Remove(path); err != nil {
			return dst, fmt.Errorf("remove archived trace: %w", err)
		}
	}
	return dst, nil
}
