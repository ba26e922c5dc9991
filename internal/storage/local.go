// Package storage はジョブごとの作業ディレクトリをローカルファイルシステム上に管理します。
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	inDirName  = "in"
	outDirName = "out"

	// 多くのファイルシステムはファイル名を 255 バイトまでに制限する
	maxFilenameBytes = 200
)

// Workspace はジョブ専用の作業ディレクトリです。
//
//	<baseDir>/<jobID>/in   ダウンロードした音源とカバー画像
//	<baseDir>/<jobID>/out  変換後の成果物
type Workspace struct {
	JobID  string
	Dir    string
	InDir  string
	OutDir string
}

// Local はローカルディスク上に Workspace を作成・削除します。
type Local struct {
	baseDir string
}

// NewLocal は Local を作成します。
func NewLocal(baseDir string) *Local {
	return &Local{baseDir: filepath.Clean(baseDir)}
}

// BaseDir は作業ディレクトリのルートを返します。
func (l *Local) BaseDir() string {
	return l.baseDir
}

// Create は jobID 用の作業ディレクトリを作成します。
func (l *Local) Create(jobID string) (Workspace, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return Workspace{}, fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(l.baseDir, jobID)
	ws := Workspace{
		JobID:  jobID,
		Dir:    dir,
		InDir:  filepath.Join(dir, inDirName),
		OutDir: filepath.Join(dir, outDirName),
	}
	for _, d := range []string{ws.InDir, ws.OutDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return Workspace{}, fmt.Errorf("failed to create workspace %s: %w", d, err)
		}
	}
	return ws, nil
}

// Remove は作業ディレクトリを削除します。baseDir 配下以外のパスは拒否します。
func (l *Local) Remove(dir string) error {
	if dir == "" {
		return nil
	}
	rel, err := filepath.Rel(l.baseDir, filepath.Clean(dir))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s outside %s", dir, l.baseDir)
	}
	return os.RemoveAll(dir)
}

// SafeFilename はタイトルからファイル名として安全な文字列を作ります。
// パス区切りや制御文字を取り除き、空になった場合は fallback を使います。
// 拡張子を含めて maxFilenameBytes バイト以内になるよう文字単位で切り詰めます。
func SafeFilename(title, ext, fallback string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.Trim(strings.TrimSpace(b.String()), ".")
	if name == "" {
		name = fallback
	}
	name = strings.TrimSpace(truncateBytes(name, maxFilenameBytes-len(ext)))
	if name == "" {
		name = fallback
	}
	return name + ext
}

// truncateBytes は UTF-8 の文字境界を保ったまま s を limit バイト以内にします。
func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := 0
	for i, r := range s {
		if i+utf8.RuneLen(r) > limit {
			break
		}
		end = i + utf8.RuneLen(r)
	}
	return s[:end]
}
