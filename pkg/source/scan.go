package source

import (
	"bufio"
	"io"
)

// lineScanner iterates newline-delimited records with a bounded accumulation
// buffer. A line longer than max is consumed to its end and reported via
// TooLong, so one oversized record never aborts the scan; callers tombstone
// it and keep going. bufio.Scanner cannot do this: ErrTooLong kills the
// whole scan.
type lineScanner struct {
	r    *bufio.Reader
	max  int
	line []byte
	long bool
	err  error
}

// newLineScanner wraps r. buf seeds the line accumulation buffer (pooled by
// callers); max bounds how many bytes of one line are retained.
func newLineScanner(r io.Reader, buf []byte, max int) *lineScanner {
	return &lineScanner{
		r:    bufio.NewReaderSize(r, 64*1024),
		max:  max,
		line: buf[:0],
	}
}

// Scan advances to the next line. It returns false at end of input or on a
// read error; TooLong and Bytes describe the current line after a true
// return.
func (s *lineScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	s.line = s.line[:0]
	s.long = false

	for {
		chunk, err := s.r.ReadSlice('\n')
		if !s.long && len(chunk) > 0 {
			if len(s.line)+len(chunk) > s.max {
				s.long = true
				s.line = s.line[:0]
			} else {
				s.line = append(s.line, chunk...)
			}
		}

		switch err {
		case nil:
			return true
		case bufio.ErrBufferFull:
			// Mid-line; keep accumulating (or discarding, once oversized).
		case io.EOF:
			return len(s.line) > 0 || s.long
		default:
			s.err = err
			return false
		}
	}
}

// Bytes returns the current line including its trailing newline, if any.
// Empty for oversized lines.
func (s *lineScanner) Bytes() []byte { return s.line }

// TooLong reports whether the current line exceeded the retention bound.
func (s *lineScanner) TooLong() bool { return s.long }

// Err returns the first read error other than end of input.
func (s *lineScanner) Err() error { return s.err }
