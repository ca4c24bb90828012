package session

import (
	"bufio"
	"io"

	"github.com/aerowinx/frankenrouter/protocol"
)

// newLineReader wraps a connection in the buffered reader protocol.ReadLine
// expects. The buffer is sized well above protocol.MaxLineLength so a
// legal line is always read in one underlying Read.
func newLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, protocol.MaxLineLength+4096)
}

func readLine(r *bufio.Reader) (string, error) {
	return protocol.ReadLine(r)
}
