package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"novelhub/pkg/models"
)

// Subscribe connects to a TCP sync server and calls fn for every fetch event
// until the connection ends or ctx is done. The welcome line is skipped.
func Subscribe(ctx context.Context, addr string, fn func(models.FetchEvent)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev models.FetchEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Type == "" || ev.Type == "welcome" {
			continue
		}
		fn(ev)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", addr, net.ErrClosed)
}
