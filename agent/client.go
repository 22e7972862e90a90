package agent

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/aethiopicuschan/zapcat/query"
)

// Get asks the agent at addr for one item, the way a monitoring server does,
// and returns the decoded response with the protocol version it came in.
func Get(ctx context.Context, addr, key string, timeout time.Duration) (string, query.ProtocolVersion, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", query.Framed, errors.Wrapf(err, "connecting to %s", addr)
	}
	defer conn.Close()

	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return "", query.Framed, errors.Wrap(err, "setting deadline")
		}
	}
	if _, err := conn.Write(query.Encode(key+"\n", query.Legacy)); err != nil {
		return "", query.Framed, errors.Wrapf(err, "sending %q", key)
	}
	return query.Decode(conn)
}
