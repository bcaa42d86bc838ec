package control

import (
	"fmt"
	"net"
	"time"
)

// Client sends a single request to a control-channel server and reads
// its response.
type Client struct {
	network string
	address string
	timeout time.Duration
}

// NewClient builds a client for the given transport ("unix" + socket
// path, or "tcp" + host:port).
func NewClient(network, address string) *Client {
	return &Client{network: network, address: address, timeout: DefaultReadTimeout}
}

// Send opens a new connection, writes "CMD\r\nDATA\r\n", reads back
// "RETCODE\r\nMSG\r\n", and closes the connection.
func (c *Client) Send(cmd, data string) (code int, msg string, err error) {
	conn, err := net.DialTimeout(c.network, c.address, c.timeout)
	if err != nil {
		return 0, "", fmt.Errorf("control: dial %s %s: %w", c.network, c.address, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := sendRequest(conn, cmd, data); err != nil {
		return 0, "", err
	}
	return readResponse(conn)
}
