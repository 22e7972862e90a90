package agent

import (
	"bufio"
	"io"

	"github.com/aethiopicuschan/zapcat/query"
)

// Receive reads one request line. The line ends at '\n' or at
// end-of-stream; a peer that closes mid-line still gets its partial line
// answered. There is no length limit: a peer that never sends '\n' makes
// the line grow without bound.
func Receive(r *bufio.Reader) (string, error) {
	b, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return query.Latin1(b), nil
}
