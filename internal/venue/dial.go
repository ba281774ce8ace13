package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// dialURL opens a websocket to the given URL under ctx's deadline.
func dialURL(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// writeJSONTo sends a JSON payload on conn with the standard write deadline.
// Used during Subscribe, before the collector's serialized writer takes over.
func writeJSONTo(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
