package transform

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danthegoodman1/etlpipe/table"
)

type (
	Format string

	FileDescriptor struct {
		Path   string
		Format Format
	}

	// ReadFunc parses one whole file. name is only used in error messages.
	ReadFunc func(name string, r io.Reader) (*table.Table, error)
)

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

var readers = map[Format]ReadFunc{
	FormatCSV:  readCSV,
	FormatJSON: readJSONLines,
	FormatXML:  readXML,
}

// RegisterReader adds or replaces the parser for a format, keyed by its extension without the dot.
func RegisterReader(format Format, fn ReadFunc) {
	readers[format] = fn
}

// SupportedExtensions lists the registered extensions with a leading dot, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(readers))
	for f := range readers {
		exts = append(exts, "."+string(f))
	}
	sort.Strings(exts)
	return exts
}

// Describe infers the format of path from its extension, case-insensitively.
func Describe(path string) (FileDescriptor, error) {
	ext := filepath.Ext(path)
	format := Format(strings.TrimPrefix(strings.ToLower(ext), "."))
	if _, ok := readers[format]; !ok {
		return FileDescriptor{}, &UnsupportedFormatError{Ext: ext}
	}
	return FileDescriptor{Path: path, Format: format}, nil
}

// Read parses the file at path into a table using the parser registered for its extension.
func Read(path string) (*table.Table, error) {
	fd, err := Describe(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fd.Path)
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	defer f.Close()

	t, err := readers[fd.Format](fd.Path, f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s file: %w", fd.Format, err)
	}
	return t, nil
}
