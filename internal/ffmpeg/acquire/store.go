// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package acquire

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	archiveName  = "ffmpeg.zip"
	manifestName = "manifest.json"
)

// manifest records what was verified at install time. It is written last,
// so its presence marks a complete install.
type manifest struct {
	Version       string            `json:"version"`
	URL           string            `json:"url"`
	ArchiveSHA256 string            `json:"archiveSha256"`
	Files         map[string]string `json:"files"`
	InstalledAt   time.Time         `json:"installedAt"`
}

// store is the managed directory of one pinned version
type store struct {
	dir string
}

func (s *store) binPath(base string) string {
	return filepath.Join(s.dir, "bin", exeName(base))
}

func (s *store) archivePath() string {
	return filepath.Join(s.dir, archiveName)
}

func (s *store) purge() {
	os.RemoveAll(s.dir)
}

func (s *store) readManifest() (manifest, error) {
	m := manifest{}
	data, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func (s *store) writeManifest(m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	_, err = writeAtomic(filepath.Join(s.dir, manifestName), strings.NewReader(string(data)), 0o644)
	return err
}

// verify re-hashes the archive and both executables
func (s *store) verify(m manifest, archiveSHA string) error {
	if m.ArchiveSHA256 != archiveSHA {
		return fmt.Errorf("manifest pins %s, want %s", m.ArchiveSHA256, archiveSHA)
	}
	sum, err := hashFile(s.archivePath())
	if err != nil {
		return err
	}
	if sum != archiveSHA {
		return fmt.Errorf("archive sha256 %s, want %s", sum, archiveSHA)
	}

	for _, base := range []string{"ffmpeg", "ffprobe"} {
		want, ok := m.Files[exeName(base)]
		if !ok {
			return fmt.Errorf("manifest lacks %s", exeName(base))
		}
		sum, err := hashFile(s.binPath(base))
		if err != nil {
			return err
		}
		if sum != want {
			return fmt.Errorf("%s sha256 %s, want %s", exeName(base), sum, want)
		}
	}
	return nil
}

func (s *store) keepArchive(tmp string) error {
	return os.Rename(tmp, s.archivePath())
}

// extract copies <any>/bin/<exe> for every base from the zip into the store
// and returns the digest of each written executable.
func (s *store) extract(archive string, bases ...string) (map[string]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	files := map[string]string{}
	for _, base := range bases {
		exe := exeName(base)
		entry := findEntry(zr.File, exe)
		if entry == nil {
			return nil, fmt.Errorf("archive has no bin/%s", exe)
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", entry.Name, err)
		}
		sum, err := writeAtomic(s.binPath(base), rc, 0o755)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", exe, err)
		}
		files[exe] = sum
	}
	return files, nil
}

func findEntry(files []*zip.File, exe string) *zip.File {
	suffix := "/bin/" + exe
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(f.Name, `\`, "/"))
		if strings.HasSuffix(name, suffix) || name == "bin/"+exe {
			return f
		}
	}
	return nil
}

// writeAtomic writes r to a temp file next to path, syncs, sets perm and
// renames it into place. Nothing is left at path on failure.
func writeAtomic(path string, r io.Reader, perm os.FileMode) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(f, h), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, perm)
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
