package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	baseOnce sync.Once
	baseDir  string
	baseErr  error

	flagBaseDir = flag.String("base", "", "Base data directory (overrides auto-detect)")
)

// BaseDir resolves the `public` data directory once: env override, flag,
// adjacent to the executable, walk-up from CWD, then ./public.
func BaseDir() (string, error) {
	baseOnce.Do(func() {
		// 1) ENV override
		if v := strings.TrimSpace(os.Getenv("CNNVIS_DATA_DIR")); v != "" {
			if isDir(v) {
				baseDir = v
				return
			}
			baseErr = errors.New("CNNVIS_DATA_DIR set but not a directory: " + v)
			return
		}
		// 2) Flag override (if flags parsed)
		if flag.Parsed() && *flagBaseDir != "" {
			if isDir(*flagBaseDir) {
				baseDir = *flagBaseDir
				return
			}
			baseErr = errors.New("--base provided but not a directory: " + *flagBaseDir)
			return
		}
		// 3) Adjacent to executable
		if exe, err := os.Executable(); err == nil {
			if d := filepath.Join(filepath.Dir(exe), "public"); isDir(d) {
				baseDir = d
				return
			}
		}
		// 4) Walk upward from CWD looking for "public"
		if cwd, err := os.Getwd(); err == nil {
			if d, ok := findUp(cwd, "public"); ok {
				baseDir = d
				return
			}
		}
		// 5) Fallback ./public
		if isDir("public") {
			if abs, err := filepath.Abs("public"); err == nil {
				baseDir = abs
				return
			}
			baseDir = "public"
			return
		}
		baseErr = errors.New(`could not locate a "public" directory; set CNNVIS_DATA_DIR or use --base`)
	})
	return baseDir, baseErr
}

func PublicPath(parts ...string) (string, error) {
	b, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{b}, parts...)...), nil
}

func MustPublicPath(parts ...string) string {
	p, err := PublicPath(parts...)
	if err != nil {
		panic(err)
	}
	return p
}

func EnsurePublicDir(parts ...string) (string, error) {
	p, err := PublicPath(parts...)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	return p, nil
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

func findUp(start, name string) (string, bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, name)
		if isDir(candidate) {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
