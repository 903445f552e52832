package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
)

// GrpcBus publishes events to a remote EventService over gRPC.
// Used when BusProvider == "grpc" in config.
type GrpcBus struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewGrpcBus(conn grpc.ClientConnInterface) *GrpcBus {
	return &GrpcBus{conn: conn, timeout: 5 * time.Second}
}

// NewGrpcBusFromAddr dials the remote EventService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr string) (*GrpcBus, func(), error) {
	conn, err := Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { conn.Close() }
	return NewGrpcBus(conn), cleanup, nil
}

func (b *GrpcBus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var resp EventResponse
	if err := b.conn.Invoke(ctx, methodPublish, &EventRequest{Topic: topic, Payload: data}, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("event service rejected %s event", topic)
	}
	return nil
}
