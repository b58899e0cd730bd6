// Package wordlist loads a newline-delimited candidate list into memory
// as an ordered, index-addressable sequence of byte strings. The scan
// core only ever borrows slices of the returned sequence.
package wordlist

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Load reads path into an ordered candidate sequence. Lines are split on
// '\n' with a trailing '\r' stripped; interior empty lines are kept
// (the empty string is a valid candidate). The returned slices alias one
// backing buffer, so the list costs one allocation regardless of length.
func Load(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wordlist: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("wordlist: %w", err)
	}

	bar := progressbar.NewOptions64(fi.Size(),
		progressbar.OptionSetDescription("loading wordlist"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	var buf bytes.Buffer
	buf.Grow(int(fi.Size()))
	if _, err := io.Copy(io.MultiWriter(&buf, bar), f); err != nil {
		return nil, fmt.Errorf("wordlist: read %s: %w", path, err)
	}
	return Split(buf.Bytes()), nil
}

// Split divides data into lines in place, without copying line contents.
// A trailing newline does not produce a final empty candidate.
func Split(data []byte) [][]byte {
	lines := make([][]byte, 0, bytes.Count(data, []byte{'\n'})+1)
	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			line, data = data, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, line)
	}
	return lines
}
