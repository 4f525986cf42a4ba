package decoders

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// LineFramer splits a chunked byte stream into complete lines.
//
// Splitting happens on raw bytes. A line feed never occurs inside a
// multi-byte UTF-8 sequence, so a character split across two chunks is
// rejoined in the carry before its line is converted to text.
//
// A LineFramer belongs to exactly one stream and is not safe for
// concurrent use.
type LineFramer struct {
	// buf[start:] is the carried partial line. buf[scan:] has not been
	// searched for a line feed yet.
	buf   []byte
	start int
	scan  int
}

// maxRetainedCarry caps the buffer kept between lines once it is empty.
const maxRetainedCarry = 64 << 10

// NewLineFramer creates an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Feed appends chunk to the carried partial line and returns every line
// that is now complete, in order. A trailing carriage return is stripped
// from each line. The last segment after the final line feed, possibly
// empty, becomes the new carry.
func (f *LineFramer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf[f.scan:], '\n')
		if idx < 0 {
			f.scan = len(f.buf)
			break
		}
		end := f.scan + idx
		lines = append(lines, decodeLine(f.buf[f.start:end]))
		f.start = end + 1
		f.scan = f.start
	}

	f.compact()
	return lines
}

// compact reclaims consumed bytes once they make up more than half of the
// buffer, so each byte is moved a bounded number of times.
func (f *LineFramer) compact() {
	switch {
	case f.start == len(f.buf):
		if cap(f.buf) > maxRetainedCarry {
			f.buf = nil
		} else {
			f.buf = f.buf[:0]
		}
		f.start, f.scan = 0, 0
	case f.start > len(f.buf)/2:
		n := copy(f.buf, f.buf[f.start:])
		f.buf = f.buf[:n]
		f.scan -= f.start
		f.start = 0
	}
}

// Pending returns the number of carried bytes not yet framed into a line.
func (f *LineFramer) Pending() int {
	return len(f.buf) - f.start
}

// Discard drops the carried partial line. It is called at end of stream:
// a final line that never received its line feed is incomplete and is not
// reconstructed.
func (f *LineFramer) Discard() int {
	n := f.Pending()
	f.buf = nil
	f.start, f.scan = 0, 0
	return n
}

func decodeLine(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}
