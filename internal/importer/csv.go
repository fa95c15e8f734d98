package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding is the character set of an imported file
type Encoding string

const (
	// EncodingAuto reads UTF-8 unless the bytes are not valid UTF-8 and carry
	// no byte order mark, in which case Shift_JIS (cp932) is assumed
	EncodingAuto     Encoding = "auto"
	EncodingUTF8     Encoding = "utf-8"
	EncodingShiftJIS Encoding = "shift_jis"
)

// ParseEncoding accepts the usual spellings; "" means auto
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "shift-jis", "sjis", "cp932", "windows-31j":
		return EncodingShiftJIS, nil
	default:
		return "", errs.Newf(errs.KindValidation, "unsupported encoding %q", s)
	}
}

type options struct {
	encoding Encoding
}

// Option configures ReadCSV
type Option func(*options)

// WithEncoding selects the input character set
func WithEncoding(e Encoding) Option {
	return func(o *options) { o.encoding = e }
}

// decoder returns r transcoded to UTF-8. A byte order mark always wins.
func decoder(r io.Reader, enc Encoding) (io.Reader, error) {
	fallback := encoding.Encoding(unicode.UTF8)
	switch enc {
	case EncodingShiftJIS:
		fallback = japanese.ShiftJIS
	case EncodingAuto, "":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "failed to read csv")
		}
		if !hasUTF16BOM(data) && !utf8.Valid(data) {
			fallback = japanese.ShiftJIS
		}
		r = bytes.NewReader(data)
	}
	return transform.NewReader(r, unicode.BOMOverride(fallback.NewDecoder())), nil
}

func hasUTF16BOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}

// Table is a parsed CSV file: its header and one map per data row
type Table struct {
	Header []string
	Rows   []map[string]string
}

// ReadCSV parses CSV with a header row. A UTF-8 or UTF-16 byte order mark is
// honoured and stripped; without one the configured encoding applies.
// Rows with a different field count than the header are kept, with missing
// cells left out of the row map.
func ReadCSV(r io.Reader, opts ...Option) (*Table, error) {
	o := options{encoding: EncodingAuto}
	for _, opt := range opts {
		opt(&o)
	}
	decoded, err := decoder(r, o.encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errs.New(errs.KindValidation, "csv file is empty")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "failed to read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "failed to read csv row")
		}
		if isBlank(record) {
			continue
		}

		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// ReadCSVFile opens path and parses it with ReadCSV
func ReadCSVFile(path string, opts ...Option) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "failed to open csv file")
	}
	defer f.Close()

	return ReadCSV(f, opts...)
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
