package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/lxzan/gws"

	"github.com/logbookhq/logbook/pkg/connection"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/source"
)

type paramError struct {
	msg string
}

func (e paramError) Error() string { return e.msg }

// decodeInto decodes raw params into dests, which must match in number.
func (h *Handler) decodeInto(raw []cbor.RawMessage, dests ...any) error {
	if len(raw) != len(dests) {
		return paramError{fmt.Sprintf("expected %d params, got %d", len(dests), len(raw))}
	}
	for i, dest := range dests {
		if err := h.server.codec.Unmarshal(raw[i], dest); err != nil {
			return paramError{fmt.Sprintf("param %d: %v", i, err)}
		}
	}
	return nil
}

func (h *Handler) session(socket *gws.Conn) *session {
	h.server.mu.RLock()
	defer h.server.mu.RUnlock()
	return h.server.sessions[socket]
}

// handleLive expects (uuid, kind, key | PageQuery).
func (h *Handler) handleLive(socket *gws.Conn, req *connection.RawRPCRequest) {
	if len(req.Params) != 3 {
		h.sendError(socket, req.ID, connection.CodeInvalidParams, "live expects 3 params")
		return
	}
	var id models.UUID
	var kind connection.LiveKind
	if err := h.decodeInto(req.Params[:2], &id, &kind); err != nil {
		h.sendError(socket, req.ID, connection.CodeInvalidParams, err.Error())
		return
	}

	sess := h.session(socket)
	if sess == nil {
		h.sendError(socket, req.ID, connection.CodeInternalError, "no session")
		return
	}

	liveCtx, cancel := context.WithCancel(h.server.ctx)
	var err error
	switch kind {
	case connection.LiveObject:
		var key string
		if err = h.server.codec.Unmarshal(req.Params[2], &key); err != nil {
			break
		}
		var sub source.Subscription[source.Object]
		if sub, err = h.server.src.SubscribeObject(liveCtx, key); err == nil {
			go pump(h, socket, id, sub, func(obj source.Object) any {
				if obj == nil {
					return nil
				}
				return map[string]any(obj)
			})
		}
	case connection.LivePage:
		var q source.PageQuery
		if err = h.server.codec.Unmarshal(req.Params[2], &q); err != nil {
			break
		}
		var sub source.Subscription[[]source.Document]
		if sub, err = h.server.src.SubscribePage(liveCtx, source.NormalizeQuery(q)); err == nil {
			go pump(h, socket, id, sub, func(docs []source.Document) any { return docs })
		}
	default:
		err = paramError{fmt.Sprintf("unknown live kind %q", kind)}
	}
	if err != nil {
		cancel()
		h.sendSourceError(socket, req.ID, err)
		return
	}

	sess.mu.Lock()
	if _, ok := sess.lives[id.String()]; ok {
		sess.mu.Unlock()
		cancel()
		h.sendError(socket, req.ID, connection.CodeInvalidParams, constants.ErrIDInUse.Error())
		return
	}
	sess.lives[id.String()] = cancel
	sess.mu.Unlock()

	h.server.log.Debug("live subscription started", "id", id.String(), "kind", kind)
	h.sendResponse(socket, req.ID, id.String())
}

// pump forwards every update of sub as a notification until sub ends.
func pump[T any](h *Handler, socket *gws.Conn, id models.UUID, sub source.Subscription[T], encode func(T) any) {
	defer sub.Close()
	for u := range sub.Updates() {
		if u.Err != nil {
			h.sendNotification(socket, id, connection.ErrorAction, u.Err.Error())
			continue
		}
		h.sendNotification(socket, id, connection.SnapshotAction, encode(u.Value))
	}
}

func (h *Handler) handleKill(socket *gws.Conn, req *connection.RawRPCRequest) {
	var id models.UUID
	if err := h.decodeInto(req.Params, &id); err != nil {
		h.sendError(socket, req.ID, connection.CodeInvalidParams, err.Error())
		return
	}

	if sess := h.session(socket); sess != nil {
		sess.mu.Lock()
		if cancel, ok := sess.lives[id.String()]; ok {
			cancel()
			delete(sess.lives, id.String())
		}
		sess.mu.Unlock()
	}
	h.sendResponse(socket, req.ID, nil)
}

func (h *Handler) handleCreate(socket *gws.Conn, req *connection.RawRPCRequest) {
	var collection string
	var fields map[string]any
	if err := h.decodeInto(req.Params, &collection, &fields); err != nil {
		h.sendError(socket, req.ID, connection.CodeInvalidParams, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(h.server.ctx, constants.DefaultRequestTimeout)
	defer cancel()
	id, err := h.server.src.Create(ctx, collection, source.NormalizeFields(fields))
	if err != nil {
		h.sendSourceError(socket, req.ID, err)
		return
	}
	h.sendResponse(socket, req.ID, id)
}

func (h *Handler) handleUpdate(socket *gws.Conn, req *connection.RawRPCRequest) {
	var collection, id string
	var fields map[string]any
	if err := h.decodeInto(req.Params, &collection, &id, &fields); err != nil {
		h.sendError(socket, req.ID, connection.CodeInvalidParams, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(h.server.ctx, constants.DefaultRequestTimeout)
	defer cancel()
	if err := h.server.src.Update(ctx, collection, id, source.NormalizeFields(fields)); err != nil {
		h.sendSourceError(socket, req.ID, err)
		return
	}
	h.sendResponse(socket, req.ID, nil)
}

func (h *Handler) handleDelete(socket *gws.Conn, req *connection.RawRPCRequest) {
	var collection, id string
	if err := h.decodeInto(req.Params, &collection, &id); err != nil {
		h.sendError(socket, req.ID, connection.CodeInvalidParams, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(h.server.ctx, constants.DefaultRequestTimeout)
	defer cancel()
	if err := h.server.src.Delete(ctx, collection, id); err != nil {
		h.sendSourceError(socket, req.ID, err)
		return
	}
	h.sendResponse(socket, req.ID, nil)
}

// sendSourceError maps a source error onto an RPC error code.
func (h *Handler) sendSourceError(socket *gws.Conn, id any, err error) {
	var perr paramError
	switch {
	case errors.As(err, &perr), errors.Is(err, constants.ErrInvalidQuery):
		h.sendError(socket, id, connection.CodeInvalidParams, err.Error())
	case errors.Is(err, constants.ErrNotFound):
		h.sendError(socket, id, connection.CodeNotFound, err.Error())
	default:
		h.server.log.Error("source request failed", "error", err)
		h.sendError(socket, id, connection.CodeSourceError, err.Error())
	}
}
