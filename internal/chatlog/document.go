package chatlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMalformedDocument means a whole session file could not be decoded.
	ErrMalformedDocument = errors.New("chatlog: malformed document")
	// ErrMalformedOperation means a single JSONL line could not be applied.
	ErrMalformedOperation = errors.New("chatlog: malformed operation")
)

// maxLineSize bounds a single JSONL line. Snapshot lines of long sessions
// routinely exceed the bufio default of 64KB.
const maxLineSize = 256 * 1024 * 1024

// scannerBufPool recycles 1MB initial buffers for line scanning.
var scannerBufPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 1024*1024)
	},
}

func getScannerBuffer() []byte {
	return scannerBufPool.Get().([]byte)
}

func putScannerBuffer(buf []byte) {
	scannerBufPool.Put(buf)
}

// Document is a reconstructed session document: JSON objects are
// map[string]any, arrays are []any, numbers are float64.
type Document map[string]any

// LineError records a JSONL line that was skipped.
type LineError struct {
	Line int // 1-based line number in the file
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e LineError) Unwrap() error { return e.Err }

// Report summarizes one decode.
type Report struct {
	Lines   int         // non-empty lines seen
	Applied int         // operations applied
	Skipped []LineError // lines that failed to parse or apply
}

// Decode turns a session file's bytes into a Document.
//
// When lineDelimited is false the bytes must hold a single JSON object.
// Otherwise each non-empty line is parsed as an Operation and applied to an
// initially empty document; bad lines are recorded in the Report and
// skipped. A JSONL file with no applicable line is ErrMalformedDocument.
func Decode(data []byte, lineDelimited bool) (Document, Report, error) {
	if !lineDelimited {
		doc, err := decodeJSON(data)
		if err != nil {
			return nil, Report{Lines: 1}, err
		}
		return doc, Report{Lines: 1, Applied: 1}, nil
	}
	return decodeLines(data)
}

func decodeJSON(data []byte) (Document, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformedDocument)
	}
	return Document(doc), nil
}

func decodeLines(data []byte) (Document, Report, error) {
	doc := Document{}
	var rep Report

	scanner := bufio.NewScanner(bytes.NewReader(data))
	buf := getScannerBuffer()
	defer putScannerBuffer(buf)
	scanner.Buffer(buf, maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rep.Lines++

		op, err := ParseOperation(line)
		if err == nil {
			err = doc.Apply(op)
		}
		if err != nil {
			rep.Skipped = append(rep.Skipped, LineError{Line: lineNo, Err: err})
			continue
		}
		rep.Applied++
	}
	if err := scanner.Err(); err != nil {
		// Typically a line still being written past maxLineSize; keep what we have.
		rep.Skipped = append(rep.Skipped, LineError{
			Line: lineNo + 1,
			Err:  fmt.Errorf("%w: %v", ErrMalformedOperation, err),
		})
	}

	if rep.Applied == 0 {
		return nil, rep, fmt.Errorf("%w: no valid operations in %d lines", ErrMalformedDocument, rep.Lines)
	}
	return doc, rep, nil
}

// Get returns the value addressed by path.
func (d Document) Get(path Path) (any, bool) {
	var node any = map[string]any(d)
	for _, seg := range path {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[seg.key]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			if !seg.isIndex || seg.index >= len(n) {
				return nil, false
			}
			node = n[seg.index]
		default:
			return nil, false
		}
	}
	return node, true
}
