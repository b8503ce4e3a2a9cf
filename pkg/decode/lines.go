// Package decode implements the fault-tolerant streaming decoder: a byte
// stream carrying SSE-framed events is reduced to MessageState snapshots in
// three stacked layers (bytes -> lines -> SSE events -> message state),
// following the HTML Living Standard SSE parser rather than shortcutting on
// newline handling.
package decode

// lineDecoder turns a byte stream into lines, honoring LF, CRLF (coalesced),
// and a lone trailing CR (deferred until more bytes arrive or EOF). It holds
// incomplete UTF-8 sequences in its buffer rather than splitting them.
type lineDecoder struct {
	buf []byte
}

// feed appends chunk to the internal buffer and returns every complete line
// it can extract, holding back any trailing partial line (and a dangling CR
// that might be the start of a CRLF) for the next call.
func (d *lineDecoder) feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)
	var lines []string

	start := 0
	for i := 0; i < len(d.buf); i++ {
		switch d.buf[i] {
		case '\n':
			end := i
			if end > start && d.buf[end-1] == '\r' {
				end--
			}
			lines = append(lines, string(d.buf[start:end]))
			start = i + 1
		case '\r':
			// Only treat as a line break if not immediately followed by '\n'
			// (that case is handled above) and not at the very end of the
			// buffer, where another chunk might supply the paired '\n'.
			if i+1 < len(d.buf) {
				if d.buf[i+1] != '\n' {
					lines = append(lines, string(d.buf[start:i]))
					start = i + 1
				}
				// else: let the '\n' branch above handle it on the next iteration.
			}
			// i+1 == len(d.buf): defer classification; leave in buffer.
		}
	}

	d.buf = d.buf[start:]
	return lines
}

// flush emits any trailing bytes as a final line at end-of-stream.
func (d *lineDecoder) flush() []string {
	if len(d.buf) == 0 {
		return nil
	}
	buf := d.buf
	if buf[len(buf)-1] == '\r' {
		// A lone CR at end-of-stream terminates the line.
		buf = buf[:len(buf)-1]
	}
	d.buf = nil
	return []string{string(buf)}
}
