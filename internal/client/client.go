package client

import (
	"fmt"

	"github.com/matheus3301/bolechat/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client holds the typed service clients for one daemon.
type Client struct {
	conn         *grpc.ClientConn
	Session      *rpc.SessionClient
	Conversation *rpc.ConversationClient
	Message      *rpc.MessageClient
}

// New dials the daemon's Unix domain socket. The dial is lazy; a missing
// daemon surfaces as Unavailable on the first call.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(rpc.CallOption()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{
		conn:         conn,
		Session:      rpc.NewSessionClient(conn),
		Conversation: rpc.NewConversationClient(conn),
		Message:      rpc.NewMessageClient(conn),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
