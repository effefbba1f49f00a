// Package fsutil provides the directory-tree primitives used to stage
// scripts and materialize install trees.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
)

const dirModeDefault = 0755

// OS implements the filesystem operations against the host filesystem.
type OS struct{}

func (OS) Exists(path string) bool                   { return Exists(path) }
func (OS) IsFile(path string) bool                   { return IsFile(path) }
func (OS) IsDir(path string) bool                    { return IsDir(path) }
func (OS) CopyFile(src, dst string) error            { return CopyFile(src, dst) }
func (OS) CopyTree(src, dst string) error            { return CopyTree(src, dst) }
func (OS) RemoveTree(path string) error              { return RemoveTree(path) }
func (OS) SameFile(a, b string) (bool, error)        { return SameFile(a, b) }
func (OS) Digest(path string) (digest.Digest, error) { return Digest(path) }

// Exists reports whether anything (file, directory or dangling symlink)
// exists at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsFile reports whether path resolves to a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// IsDir reports whether path resolves to a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// CopyFile copies src to dst, replacing dst if present. The permission bits
// of src are carried over. The content is written to a temporary file next
// to dst and renamed into place, so an executable that is currently running
// can be replaced.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}
	return copyFile(src, dst, info.Mode())
}

// CopyTree recursively copies the contents of src into dst, creating dst
// if needed. Directory and file modes are preserved and symlinks are
// recreated rather than followed.
func CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("copy tree %s: not a directory", src)
	}

	// Directory modes are applied after the walk so read-only directories
	// can still be populated.
	type dirMode struct {
		path string
		mode fs.FileMode
	}
	var dirs []dirMode

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			dirs = append(dirs, dirMode{path: destPath, mode: info.Mode().Perm()})
			return os.MkdirAll(destPath, dirModeDefault)
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(target, destPath)
		case info.Mode().IsRegular():
			return copyFile(path, destPath, info.Mode())
		default:
			return fmt.Errorf("copy tree: unsupported file type at %s", path)
		}
	})
	if err != nil {
		return err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i].path, dirs[i].mode); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTree removes path and everything below it. A missing path is not
// an error.
func RemoveTree(path string) error {
	return os.RemoveAll(path)
}

// Digest returns the sha256 content digest of the file at path.
func Digest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return digest.Canonical.FromReader(f)
}

// SameFile reports whether a and b are both regular files with identical
// content and permission bits.
func SameFile(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !infoA.Mode().IsRegular() || !infoB.Mode().IsRegular() {
		return false, nil
	}
	if infoA.Mode().Perm() != infoB.Mode().Perm() || infoA.Size() != infoB.Size() {
		return false, nil
	}

	da, err := Digest(a)
	if err != nil {
		return false, err
	}
	db, err := Digest(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

func copyFile(src, dest string, mode fs.FileMode) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, dirModeDefault); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode.Perm()); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
