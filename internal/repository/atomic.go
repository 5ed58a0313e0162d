package repository

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DirTx replaces one artifact directory atomically. Files are staged in a sibling
// temp directory, then swapped in with two renames.
type DirTx struct {
	baseDir   string // <root>/<artifact id>
	tempDir   string // <root>/.<artifact id>.tmp.<nanos>
	backupDir string // <root>/.<artifact id>.backup.<nanos>
	committed bool
}

// NewDirTx creates a transaction for baseDir.
func NewDirTx(baseDir string) *DirTx {
	stamp := time.Now().UnixNano()
	parent, name := filepath.Split(filepath.Clean(baseDir))
	return &DirTx{
		baseDir:   baseDir,
		tempDir:   filepath.Join(parent, fmt.Sprintf(".%s.tmp.%d", name, stamp)),
		backupDir: filepath.Join(parent, fmt.Sprintf(".%s.backup.%d", name, stamp)),
	}
}

// Begin stages a copy of the current directory, or an empty one for a new artifact.
// Files not rewritten by the transaction survive the commit.
func (tx *DirTx) Begin() error {
	if _, err := os.Stat(tx.baseDir); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(tx.tempDir, 0755); err != nil {
				return fmt.Errorf("create temp directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("stat base directory: %w", err)
	}

	if err := copyDirRecursive(tx.baseDir, tx.tempDir); err != nil {
		_ = os.RemoveAll(tx.tempDir)
		return fmt.Errorf("copy directory tree: %w", err)
	}
	return nil
}

// WriteFile writes content into the staged directory.
func (tx *DirTx) WriteFile(relativePath string, content []byte) error {
	if tx.committed {
		return fmt.Errorf("transaction already committed")
	}

	fullPath := filepath.Join(tx.tempDir, relativePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Commit swaps the staged directory in. On failure the previous directory is restored.
func (tx *DirTx) Commit() error {
	if tx.committed {
		return fmt.Errorf("transaction already committed")
	}

	baseExists := true
	if _, err := os.Stat(tx.baseDir); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat base directory: %w", err)
		}
		baseExists = false
	}

	if baseExists {
		if err := os.Rename(tx.baseDir, tx.backupDir); err != nil {
			return fmt.Errorf("backup base directory: %w", err)
		}
		if err := os.Rename(tx.tempDir, tx.baseDir); err != nil {
			if rollbackErr := os.Rename(tx.backupDir, tx.baseDir); rollbackErr != nil {
				return fmt.Errorf("commit failed and rollback failed: commit error: %w, rollback error: %v", err, rollbackErr)
			}
			return fmt.Errorf("commit base directory (rolled back): %w", err)
		}
		// leftover backups are harmless; the next commit uses a new name
		_ = os.RemoveAll(tx.backupDir)
	} else if err := os.Rename(tx.tempDir, tx.baseDir); err != nil {
		return fmt.Errorf("commit base directory (new): %w", err)
	}

	tx.committed = true
	return nil
}

// Rollback discards the staged directory.
func (tx *DirTx) Rollback() error {
	if tx.committed {
		return fmt.Errorf("cannot rollback committed transaction")
	}
	if err := os.RemoveAll(tx.tempDir); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// copyDirRecursive copies real file contents so that writes to the staged tree
// never reach the live directory before Commit.
func copyDirRecursive(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := os.MkdirAll(dst, srcInfo.Mode()); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDirRecursive(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = srcFile.Close() }()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("copy contents: %w", err)
	}
	return dstFile.Close()
}
