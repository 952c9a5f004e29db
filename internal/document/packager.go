// Package document converts rendered images into single-page PDFs and
// packages finished document sets into one compressed archive.
package document

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"certmill/internal/pkg/errors"
)

// archiveCompression is the fixed deflate level used for archives.
// Level 6 trades archive size against packaging speed.
const archiveCompression = 6

// Packager turns rendered frames into PDFs and PDFs into archives.
type Packager struct {
	conf *model.Configuration
}

func NewPackager() *Packager {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Packager{conf: conf}
}

// ToPDF writes img to dst as a one-page PDF whose page dimensions
// match the image's pixel dimensions exactly.
func (p *Packager) ToPDF(img image.Image, dst string) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return errors.Wrap(err, "document.topdf", "failed to encode frame")
	}

	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "document.topdf", "failed to create document file")
	}

	// Default import places each image on a page of its own size.
	if err := api.ImportImages(nil, f, []io.Reader{&buf}, pdfcpu.DefaultImportConfig(), p.conf); err != nil {
		f.Close()
		os.Remove(dst)
		return errors.Wrap(err, "document.topdf", "failed to build pdf page")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "document.topdf", "failed to flush document file")
	}
	return nil
}

// Archive packages the given documents into one zip at dst, each entry
// stored under its base filename. Base names are unique upstream via
// the sequential index prefix.
func (p *Packager) Archive(docs []string, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "document.archive", "failed to create archive")
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, archiveCompression)
	})

	for _, doc := range docs {
		if err := addArchiveEntry(zw, doc); err != nil {
			zw.Close()
			f.Close()
			os.Remove(dst)
			return errors.Wrapf(err, "document.archive", "failed to archive %s", filepath.Base(doc))
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return errors.Wrap(err, "document.archive", "failed to finalize archive")
	}
	return f.Close()
}

func addArchiveEntry(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
