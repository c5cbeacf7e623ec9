package importer

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrNoHeader is returned when a file has no header row to tokenize against.
// This is parse-fatal: the import does not start.
var ErrNoHeader = errors.New("csv has no header row")

// MaxLineBytes bounds a single CSV line during streaming. Lines beyond this
// are pathological for communication exports.
var MaxLineBytes = 1 << 20

// Row is one tokenized CSV record: values keyed by their (cleaned) header
// name. Field resolution downstream is by header-name alias, so column order
// does not matter once a row is built.
type Row map[string]string

// TokenizeResult is the output of whole-file tokenization.
type TokenizeResult struct {
	Headers []string // cleaned header cells, in file order
	Rows    []Row
	Skipped int // rows that failed to tokenize (field/header count mismatch)
}

// Tokenize parses an entire CSV file held in memory. Used for previews and
// for files below the streaming threshold.
//
// Empty lines are skipped, a header-only file yields zero rows without
// error, and malformed quoting degrades to best-effort splitting rather
// than failing the file. Only a missing header row is an error.
func Tokenize(data []byte) (*TokenizeResult, error) {
	data = stripBOM(data)

	lines := splitLines(string(data))
	if len(lines) == 0 {
		return nil, ErrNoHeader
	}

	headers := cleanHeaders(splitCSVLine(lines[0]))
	res := &TokenizeResult{Headers: headers}

	for _, line := range lines[1:] {
		row, ok := zipRow(headers, splitCSVLine(line))
		if !ok {
			res.Skipped++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// StreamTokenizer parses a CSV incrementally, emitting one row at a time as
// the text becomes available. The caller groups rows into chunks with
// ReadChunk. Memory stays at O(line) regardless of file size.
type StreamTokenizer struct {
	scanner *bufio.Scanner
	headers []string
	skipped int
	peeked  Row
}

// NewStreamTokenizer reads the header row and prepares incremental parsing.
// The reader should already be wrapped for BOM skipping and UTF-8 sanitizing
// (see WrapReader); NewStreamTokenizer additionally tolerates a BOM on the
// first cell. Returns ErrNoHeader if the input has no non-empty line.
func NewStreamTokenizer(r io.Reader) (*StreamTokenizer, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxLineBytes)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return &StreamTokenizer{
			scanner: sc,
			headers: cleanHeaders(splitCSVLine(line)),
		}, nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoHeader
}

// Headers returns the cleaned header cells in file order.
func (t *StreamTokenizer) Headers() []string { return t.headers }

// Skipped returns the count of rows that failed to tokenize so far. Distinct
// from normalization-level invalid records.
func (t *StreamTokenizer) Skipped() int { return t.skipped }

// Next returns the next tokenized row, or io.EOF when the input is
// exhausted. Empty lines are skipped silently; unparseable rows increment
// Skipped and are not returned.
func (t *StreamTokenizer) Next() (Row, error) {
	if t.peeked != nil {
		row := t.peeked
		t.peeked = nil
		return row, nil
	}
	for t.scanner.Scan() {
		line := strings.TrimRight(t.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, ok := zipRow(t.headers, splitCSVLine(line))
		if !ok {
			t.skipped++
			continue
		}
		return row, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReadChunk accumulates up to size rows. It returns io.EOF alongside the
// final (possibly partial) chunk once the input is exhausted.
func (t *StreamTokenizer) ReadChunk(size int) ([]Row, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunk := make([]Row, 0, size)
	for len(chunk) < size {
		row, err := t.Next()
		if err != nil {
			return chunk, err
		}
		chunk = append(chunk, row)
	}
	// Look one row ahead so a file whose row count is an exact multiple of
	// size reports io.EOF alongside its final full chunk instead of on a
	// trailing empty one.
	row, err := t.Next()
	if err != nil {
		return chunk, err
	}
	t.peeked = row
	return chunk, nil
}

// splitCSVLine splits one line on commas, honoring double quotes. A quote
// toggles the in-quotes flag; a backslash-escaped quote is kept literally.
// Malformed quoting (an unclosed quote) degrades to treating the rest of the
// line as one field instead of erroring.
func splitCSVLine(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			i++
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())

	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

// zipRow pairs values against header order. A row whose field count does not
// match the header count failed to tokenize.
func zipRow(headers, values []string) (Row, bool) {
	if len(values) != len(headers) {
		return nil, false
	}
	row := make(Row, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		row[h] = values[i]
	}
	return row, true
}

func cleanHeaders(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = CleanHeader(c)
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
