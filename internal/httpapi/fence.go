package httpapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// recognizedCacheDirs lists the cache directory basenames the
// cleanup_cache action and /disk/cleanup scan are allowed to touch.
// Anything else under home or temp is out of scope even if it
// otherwise passes the fencing check.
var recognizedCacheDirs = []string{
	".cache/pip",
	".npm",
	".cache/huggingface",
	".cache/torch",
	".conda/pkgs",
	".cargo/registry/cache",
}

// fenceCleanupTarget resolves path to an absolute, symlink-free form
// and verifies it sits under the user's home directory or the system
// temp directory, and matches one of recognizedCacheDirs. This is the
// single chokepoint every destructive cleanup action must pass
// through before touching the filesystem.
func fenceCleanupTarget(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty target path")
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("refusing symlink target %q", path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}

	home, _ := os.UserHomeDir()
	tmp := os.TempDir()
	underHome := home != "" && isUnder(abs, home)
	underTmp := isUnder(abs, tmp)
	if !underHome && !underTmp {
		return "", fmt.Errorf("target %q is outside home or temp directory", path)
	}

	if !isRecognizedCacheDir(abs, home) {
		return "", fmt.Errorf("target %q is not a recognized cache directory", path)
	}

	return abs, nil
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func isRecognizedCacheDir(abs, home string) bool {
	if home == "" {
		return false
	}
	for _, suffix := range recognizedCacheDirs {
		if abs == filepath.Join(home, filepath.FromSlash(suffix)) {
			return true
		}
	}
	return false
}
