package services

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"product-importer/models"
)

// CSVHeader is the only accepted header row.
var CSVHeader = []string{"sku", "name", "description", "price"}

const utf8BOM = "\ufeff"

// CSVRowSource streams CSV data rows into a COPY. It implements
// pgx.CopyFromSource and numbers rows 1..n in file order; that number is the
// staging sequence the deduplicator keeps the maximum of.
type CSVRowSource struct {
	reader *csv.Reader
	seq    int64
	values []any
	err    error
}

// NewCSVRowSource reads and checks the header row. Rows are read lazily as the
// copy pulls them.
func NewCSVRowSource(r io.Reader) (*CSVRowSource, error) {
	reader := csv.NewReader(bufio.NewReaderSize(r, 64*1024))
	reader.FieldsPerRecord = len(CSVHeader)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	return &CSVRowSource{reader: reader}, nil
}

func checkHeader(header []string) error {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	for i, want := range CSVHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return fmt.Errorf("invalid csv header: want %q, got %q",
				strings.Join(CSVHeader, ","), strings.Join(header, ","))
		}
	}
	return nil
}

// Next advances to the next data row. It returns false at EOF or on the first
// malformed row, after which Err reports the cause.
func (s *CSVRowSource) Next() bool {
	if s.err != nil {
		return false
	}

	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		s.err = fmt.Errorf("malformed csv: %w", err)
		return false
	}

	if strings.TrimSpace(record[0]) == "" {
		line, _ := s.reader.FieldPos(0)
		s.err = fmt.Errorf("malformed csv: line %d: sku is required", line)
		return false
	}

	s.seq++
	row := models.StagingRow{
		SequenceID:  s.seq,
		SKU:         record[0],
		Name:        nullable(record[1]),
		Description: nullable(record[2]),
		Price:       nullable(record[3]),
	}
	s.values = row.CopyValues()
	return true
}

func (s *CSVRowSource) Values() ([]any, error) {
	return s.values, nil
}

func (s *CSVRowSource) Err() error {
	return s.err
}

// Rows is the number of data rows handed out so far.
func (s *CSVRowSource) Rows() int64 {
	return s.seq
}

// nullable loads empty fields as NULL.
func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
