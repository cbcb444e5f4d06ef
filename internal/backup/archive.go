package backup

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "dbvault/internal/errors"
)

// withStaging runs fn with a fresh temporary directory that is removed on
// every exit path.
func withStaging(prefix string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return apperrors.NewFilesystemError("failed to create staging directory", err)
	}
	defer os.RemoveAll(dir)

	return fn(dir)
}

// packDirectory writes every regular file and directory under root to a tar
// stream. Entry names are relative and slash separated.
func packDirectory(root string, w io.Writer) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		file, err := os.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return apperrors.NewArchiveError("failed to pack archive", err)
	}

	if err := tw.Close(); err != nil {
		return apperrors.NewArchiveError("failed to finish archive", err)
	}
	return nil
}

// unpackArchive extracts a tar stream into dest. Entries that would land
// outside dest are rejected.
func unpackArchive(r io.Reader, dest string) error {
	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperrors.NewArchiveError("failed to read archive", err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return apperrors.NewFilesystemError("failed to create directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return apperrors.NewFilesystemError("failed to create directory", err)
			}
			if err := writeEntry(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Links and devices are never written by packDirectory.
			continue
		}
	}
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return apperrors.NewFilesystemError("failed to create file", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return apperrors.NewArchiveError("failed to extract file", err)
	}
	if err := file.Close(); err != nil {
		return apperrors.NewFilesystemError("failed to close file", err)
	}
	return nil
}

// safeJoin resolves an archive entry name under dest
func safeJoin(dest, name string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	if cleaned == "/" || name == "" || strings.HasPrefix(name, "/") || hasParentRef(name) {
		return "", apperrors.NewArchiveError(fmt.Sprintf("archive entry %q escapes the destination", name), nil)
	}

	target := filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.NewArchiveError(fmt.Sprintf("archive entry %q escapes the destination", name), err)
	}
	return target, nil
}

func hasParentRef(name string) bool {
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

// copyTree copies the regular files and directories under src into dst.
// Symlinks are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode().IsRegular():
			return copyFile(p, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// replacePath removes target recursively and copies src into its place
func replacePath(src, target string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(src, target)
	}
	return copyFile(src, target, info.Mode().Perm())
}
