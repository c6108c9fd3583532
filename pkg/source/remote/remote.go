// Package remote implements source.Source on top of a websocket RPC
// connection to a logbook server.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/logbookhq/logbook/internal/codec"
	"github.com/logbookhq/logbook/pkg/connection"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/source"
)

// Client is a source.Source served by a remote server.
type Client struct {
	conn        *connection.WebSocketConnection
	unmarshaler codec.Unmarshaler
	log         logger.Logger
}

var _ source.Source = (*Client)(nil)

// New wraps an already connected connection.
func New(conn *connection.WebSocketConnection, conf *connection.Config) *Client {
	return &Client{
		conn:        conn,
		unmarshaler: conf.Unmarshaler,
		log:         logger.OrDiscard(conf.Logger),
	}
}

// Dial connects to the server described by conf.
func Dial(ctx context.Context, conf *connection.Config) (*Client, error) {
	conn := connection.NewWebSocketConnection(conf)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return New(conn, conf), nil
}

// Done is closed when the underlying connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Send(ctx, nil, connection.Ping)
}

func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func (c *Client) SubscribeObject(ctx context.Context, key string) (source.Subscription[source.Object], error) {
	return subscribe(ctx, c, connection.LiveObject, key, func(raw cbor.RawMessage) (source.Object, error) {
		var fields map[string]any
		if err := c.unmarshaler.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, nil
		}
		return source.Object(source.NormalizeFields(fields)), nil
	})
}

func (c *Client) SubscribePage(ctx context.Context, q source.PageQuery) (source.Subscription[[]source.Document], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return subscribe(ctx, c, connection.LivePage, q, func(raw cbor.RawMessage) ([]source.Document, error) {
		var docs []source.Document
		if err := c.unmarshaler.Unmarshal(raw, &docs); err != nil {
			return nil, err
		}
		for i := range docs {
			docs[i].Fields = source.NormalizeFields(docs[i].Fields)
		}
		return docs, nil
	})
}

// subscribe registers the notification channel before the live request
// is sent, so the first snapshot cannot arrive unrouted.
func subscribe[T any](
	ctx context.Context,
	c *Client,
	kind connection.LiveKind,
	arg any,
	decode func(cbor.RawMessage) (T, error),
) (source.Subscription[T], error) {
	id := models.NewUUID()
	notifications, err := c.conn.LiveNotifications(id.String())
	if err != nil {
		return nil, err
	}

	if err := c.conn.Send(ctx, nil, connection.Live, id, kind, arg); err != nil {
		c.conn.CloseLiveNotifications(id.String())
		return nil, mapError(err)
	}

	stream := source.NewStream[T](func() {
		c.conn.CloseLiveNotifications(id.String())
		go c.kill(id)
	})

	go func() {
		for {
			select {
			case <-stream.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					err := c.conn.Err()
					if err == nil {
						err = constants.ErrSubscriptionClosed
					}
					stream.Fail(err)
					_ = stream.Close()
					return
				}
				deliver(c, stream, n, decode)
			}
		}
	}()

	stream.CloseWhenDone(ctx)
	return stream, nil
}

func deliver[T any](c *Client, stream *source.Stream[T], n connection.Notification, decode func(cbor.RawMessage) (T, error)) {
	switch n.Action {
	case connection.SnapshotAction:
		v, err := decode(n.Result)
		if err != nil {
			c.log.Error("failed to decode live snapshot", "id", n.ID.String(), "error", err)
			stream.Fail(fmt.Errorf("decode snapshot: %w", err))
			return
		}
		stream.Publish(v)
	case connection.ErrorAction:
		var msg string
		_ = c.unmarshaler.Unmarshal(n.Result, &msg)
		stream.Fail(errors.New(msg))
	default:
		c.log.Warn("unknown live action", "id", n.ID.String(), "action", n.Action)
	}
}

func (c *Client) kill(id models.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultKillTimeout)
	defer cancel()
	if err := c.conn.Send(ctx, nil, connection.Kill, id); err != nil && c.conn.Err() == nil {
		c.log.Warn("failed to kill live subscription", "id", id.String(), "error", err)
	}
}

func (c *Client) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	var id string
	if err := c.conn.Send(ctx, &id, connection.Create, collection, fields); err != nil {
		return "", mapError(err)
	}
	return id, nil
}

func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return mapError(c.conn.Send(ctx, nil, connection.Update, collection, id, fields))
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return mapError(c.conn.Send(ctx, nil, connection.Delete, collection, id))
}

// mapError restores the sentinel errors of RPC error codes.
func mapError(err error) error {
	var rpcErr *connection.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case connection.CodeNotFound:
		return fmt.Errorf("%w: %s", constants.ErrNotFound, rpcErr.Message)
	case connection.CodeInvalidParams:
		return fmt.Errorf("%w: %s", constants.ErrInvalidQuery, rpcErr.Message)
	}
	return err
}
