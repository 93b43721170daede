package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrDestinationExists is returned when a move or copy would replace a file.
var ErrDestinationExists = errors.New("destination already exists")

// linkFile is swapped in tests to simulate filesystems without hard links.
var linkFile = os.Link

// CopyFileVerified streams src to a newly created dst with SHA256 + size
// integrity verification. dst must not exist. Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}

// MoveNoReplace moves src to dst without ever replacing an existing dst.
// Within one filesystem it hard-links then unlinks src, which is atomic with
// respect to the destination name. Across filesystems, or where links are not
// supported, it falls back to CopyFileVerified followed by removing src.
// It reports whether the copy fallback was used.
func MoveNoReplace(src, dst string) (bool, error) {
	if _, err := os.Lstat(dst); err == nil {
		return false, fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat destination: %w", err)
	}

	linkErr := linkFile(src, dst)
	if linkErr == nil {
		if err := os.Remove(src); err != nil {
			return false, fmt.Errorf("remove source after link: %w", err)
		}
		return false, nil
	}
	if errors.Is(linkErr, fs.ErrExist) {
		return false, fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}
	if errors.Is(linkErr, fs.ErrNotExist) {
		return false, fmt.Errorf("link: %w", linkErr)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		return true, err
	}
	if err := os.Remove(src); err != nil {
		return true, fmt.Errorf("remove source after copy: %w", err)
	}
	return true, nil
}
