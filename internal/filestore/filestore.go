// Package filestore はタグ別ディレクトリツリーへのファイル操作を提供する。
// afero.Fsを介して操作するため、テストでは任意のファイルシステムに差し替えられる。
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store はafero.Fs上のディレクトリ操作を行う。
type Store struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New は指定したファイルシステムを使うStoreを生成する。
func New(fsys afero.Fs, logger *slog.Logger) *Store {
	return &Store{fs: fsys, logger: logger}
}

// NewOS はOSのファイルシステムを使うStoreを生成する。
func NewOS(logger *slog.Logger) *Store {
	return New(afero.NewOsFs(), logger)
}

// Exists はパスが存在するかを返す。確認自体に失敗した場合はfalseを返す。
func (s *Store) Exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// ListFilenames はdir配下（再帰）の全ファイル名をベース名で返す。
// ディレクトリが存在しない場合は空の結果を返す。
func (s *Store) ListFilenames(dir string) ([]string, error) {
	var names []string
	err := afero.Walk(s.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			names = append(names, info.Name())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ファイル一覧の取得に失敗しました: %s: %w", dir, err)
	}
	return names, nil
}

// FilenameSet は複数ディレクトリのファイル名の和集合を返す。
func (s *Store) FilenameSet(dirs ...string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, dir := range dirs {
		names, err := s.ListFilenames(dir)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			set[n] = struct{}{}
		}
	}
	return set, nil
}

// EnsureDir はディレクトリを親ごと作成する。既に存在する場合は何もしない。
func (s *Store) EnsureDir(dir string) error {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ディレクトリの作成に失敗しました: %s: %w", dir, err)
	}
	return nil
}

// MoveDir はsrcをdstへ移動する。dstが既に存在する場合は上書きする。
// リネームできない場合（デバイスをまたぐ場合など）はコピーしてから削除する。
func (s *Store) MoveDir(src, dst string) error {
	if err := s.fs.RemoveAll(dst); err != nil {
		return fmt.Errorf("移動先の削除に失敗しました: %s: %w", dst, err)
	}
	if err := s.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := s.fs.Rename(src, dst); err == nil {
		return nil
	}

	if err := s.copyTree(src, dst); err != nil {
		return fmt.Errorf("ディレクトリのコピーに失敗しました: %s -> %s: %w", src, dst, err)
	}
	if err := s.fs.RemoveAll(src); err != nil {
		return fmt.Errorf("移動元の削除に失敗しました: %s: %w", src, err)
	}
	return nil
}

// RemoveDir はディレクトリを削除する。失敗してもエラーは返さずログに記録する。
func (s *Store) RemoveDir(dir string) {
	if err := s.fs.RemoveAll(dir); err != nil {
		s.logger.Warn("ディレクトリの削除に失敗しました",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}

// WriteFileAtomic はrの内容を一時ファイルに書き込んでからpathへリネームする。
// 書き込みが途中で失敗した場合はpathにファイルを残さない。
func (s *Store) WriteFileAtomic(path string, r io.Reader) error {
	dir, name := filepath.Split(path)
	tmp, err := afero.TempFile(s.fs, dir, "."+name+"-*.part")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("ファイルの書き込みに失敗しました: %s: %w", path, errors.Join(copyErr, closeErr))
	}

	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("ファイルのリネームに失敗しました: %s: %w", path, err)
	}
	return nil
}

func (s *Store) copyTree(src, dst string) error {
	return afero.Walk(s.fs, src, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return s.fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}

		in, err := s.fs.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := s.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
