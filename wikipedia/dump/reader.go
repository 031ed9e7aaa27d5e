package dump

import (
	"bufio"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/pkg/errors"
)

type Redirect struct {
	Title string `xml:"title,attr"`
}

// Page is one <page> element of a dump with the text of its revision.
type Page struct {
	Title    string   `xml:"title"`
	Ns       int      `xml:"ns"`
	Redirect Redirect `xml:"redirect"`
	Text     string   `xml:"revision>text"`
}

func (p *Page) IsRedirect() bool {
	return p.Redirect.Title != ""
}

// Reader streams the pages of a dump one at a time.
type Reader struct {
	dec *xml.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: xml.NewDecoder(r)}
}

// Next returns the next page or io.EOF after the last one.
func (r *Reader) Next() (*Page, error) {
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrap(err, "read dump")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "page" {
			continue
		}
		p := new(Page)
		if err := r.dec.DecodeElement(p, &se); err != nil {
			return nil, errors.Wrap(err, "decode page")
		}
		return p, nil
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

type bzipReadCloser struct {
	*bzip2.Reader
	f *os.File
}

func (r bzipReadCloser) Close() error {
	err := r.Reader.Close()
	if ferr := r.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// Open opens a dump for reading, decompressing .bz2 files on the fly.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open dump")
	}
	br := bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(path, ".bz2") {
		zr, err := bzip2.NewReader(br, &bzip2.ReaderConfig{})
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "open bzip2 stream")
		}
		return bzipReadCloser{Reader: zr, f: f}, nil
	}
	return readCloser{Reader: br, Closer: f}, nil
}
