package archive

import (
	"archive/zip"
	"compress/flate"
	"io"
)

type zipWriter struct {
	zw *zip.Writer
}

func newZipWriter(w io.Writer, level int) (containerWriter, error) {
	zw := zip.NewWriter(w)
	if level == 0 {
		level = flate.DefaultCompression
	}
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	return &zipWriter{zw: zw}, nil
}

func (z *zipWriter) add(e entry, r io.Reader) error {
	header, err := zip.FileInfoHeader(e.info)
	if err != nil {
		return err
	}
	header.Name = e.name
	header.Method = zip.Deflate

	w, err := z.zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

func (z *zipWriter) addDir(e entry) error {
	header, err := zip.FileInfoHeader(e.info)
	if err != nil {
		return err
	}
	header.Name = e.name + "/"
	header.Method = zip.Store
	_, err = z.zw.CreateHeader(header)
	return err
}

func (z *zipWriter) Close() error { return z.zw.Close() }
