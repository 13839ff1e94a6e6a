package display

import (
	"encoding/base64"
	"fmt"
	"io"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG data using the kitty graphics protocol.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

// NewKittyEncoder returns an encoder that scales images to the given number
// of terminal columns. Zero keeps the image's natural size.
func NewKittyEncoder(out io.Writer, columns int) *KittyEncoder {
	return &KittyEncoder{out: out, columns: columns}
}

func (e *KittyEncoder) Encode(pngData []byte) error {
	if len(pngData) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(pngData)
	chunks := splitIntoChunks(encoded, chunkSize)
	for i, chunk := range chunks {
		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, e.params(i, len(chunks)), chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

// params returns the control data for chunk i of n. Only the first chunk
// carries the transmit and placement keys.
func (e *KittyEncoder) params(i, n int) string {
	more := 0
	if i < n-1 {
		more = 1
	}
	if i > 0 {
		return fmt.Sprintf("m=%d", more)
	}

	p := "a=T,f=100,q=2"
	if e.columns > 0 {
		p += fmt.Sprintf(",c=%d", e.columns)
	}
	if n > 1 {
		p += ",m=1"
	}
	return p
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		if len(s) < size {
			size = len(s)
		}
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return chunks
}
