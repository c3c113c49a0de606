package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/checksum"
)

// Digests opens the container at path and returns the SHA-256 digest of every
// regular file in it, keyed by slash-separated name.
func Digests(path string) (map[string]string, error) {
	var (
		out map[string]string
		err error
	)
	switch {
	case strings.HasSuffix(path, "."+FormatZip):
		out, err = zipDigests(path)
	case strings.HasSuffix(path, "."+FormatTarGz):
		out, err = tarGzDigests(path)
	default:
		return nil, fmt.Errorf("unrecognised archive extension: %s", path)
	}
	if err != nil {
		return nil, backup.NewError(backup.ErrIO, path, "reading archive failed", err)
	}
	return out, nil
}

func zipDigests(path string) (map[string]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		sum, err := checksum.Reader(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		out[f.Name] = sum
	}
	return out, nil
}

func tarGzDigests(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	out := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		sum, err := checksum.Reader(tr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", header.Name, err)
		}
		out[header.Name] = sum
	}
}
