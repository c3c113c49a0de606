package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
)

// tarGzWriter stacks tar on gzip; closers run in reverse order.
type tarGzWriter struct {
	tw      *tar.Writer
	closers []io.Closer
}

func newTarGzWriter(w io.Writer, level int) (containerWriter, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(gz)
	return &tarGzWriter{tw: tw, closers: []io.Closer{gz, tw}}, nil
}

func (t *tarGzWriter) add(e entry, r io.Reader) error {
	header, err := tar.FileInfoHeader(e.info, "")
	if err != nil {
		return err
	}
	header.Name = e.name
	if err := t.tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(t.tw, r)
	return err
}

func (t *tarGzWriter) addDir(e entry) error {
	header, err := tar.FileInfoHeader(e.info, "")
	if err != nil {
		return err
	}
	header.Name = e.name + "/"
	return t.tw.WriteHeader(header)
}

func (t *tarGzWriter) Close() error {
	var firstErr error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
