package handler

import (
	"context"
	"time"

	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/call"
	"github.com/marketchat/internal/chat"
	"github.com/marketchat/internal/dispatch"
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/metrics"
	"github.com/marketchat/internal/ws"
)

const eventTimeout = 5 * time.Second

// EventRouter maps realtime frames onto the chat and call services. Work is
// serialized per conversation or per call through the dispatcher, so events for
// one room keep their order while unrelated rooms run in parallel.
type EventRouter struct {
	registry   ws.Registry
	chat       *chat.Service
	calls      *call.Service
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
}

func NewEventRouter(registry ws.Registry, chatSvc *chat.Service, callSvc *call.Service, d *dispatch.Dispatcher, m *metrics.Metrics) *EventRouter {
	return &EventRouter{registry: registry, chat: chatSvc, calls: callSvc, dispatcher: d, metrics: m}
}

// HandleEvent implements ws.EventHandler.
func (e *EventRouter) HandleEvent(ctx context.Context, c *ws.Client, msg ws.IncomingMessage) {
	task := func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
		defer cancel()
		defer e.metrics.ObserveSince(string(msg.Type), time.Now())
		if err := e.handle(tctx, c, msg); err != nil {
			e.sendError(c, msg.Type, err)
		}
	}
	if !e.dispatcher.Submit(dispatchKey(c, msg), task) {
		e.metrics.DispatchRejectedInc()
		e.sendError(c, msg.Type, apperr.Unavailable("server busy, retry"))
	}
}

func dispatchKey(c *ws.Client, msg ws.IncomingMessage) string {
	switch {
	case msg.ConversationID != "":
		return event.ConversationRoom(msg.ConversationID)
	case msg.CallID != "":
		return event.CallRoom(msg.CallID)
	}
	return "user:" + c.UserID()
}

func (e *EventRouter) handle(ctx context.Context, c *ws.Client, msg ws.IncomingMessage) error {
	userID := c.UserID()
	switch msg.Type {
	case event.JoinConversation:
		conv, err := e.chat.JoinRoom(ctx, userID, msg.ConversationID)
		if err != nil {
			return err
		}
		e.registry.JoinRoom(c, event.ConversationRoom(conv.ID))
		e.registry.SendToClient(c, event.Joined, event.JoinedPayload{ConversationID: conv.ID})
		return nil

	case event.LeaveConversation:
		e.registry.LeaveRoom(c, event.ConversationRoom(msg.ConversationID))
		return nil

	case event.SendMessage:
		_, err := e.chat.SendMessage(ctx, chat.SendMessageInput{
			UserID:          userID,
			ConversationID:  msg.ConversationID,
			Content:         msg.Content,
			Type:            msg.MessageType,
			ImageURL:        msg.ImageURL,
			ClientMessageID: msg.ClientMessageID,
		})
		return err

	case event.Typing:
		return e.chat.SetTyping(ctx, userID, msg.ConversationID, msg.IsTyping)

	case event.MarkRead:
		_, err := e.chat.MarkRead(ctx, userID, msg.ConversationID)
		return err

	case event.RequestCall:
		c2, err := e.calls.RequestCall(ctx, userID, msg.ShopID, msg.CallType)
		if err != nil {
			return err
		}
		e.registry.SendToClient(c, event.CallRequested, c2)
		return nil

	case event.AcceptCall:
		res, err := e.calls.AcceptCall(ctx, userID, msg.CallID)
		if err != nil {
			return err
		}
		e.registry.SendToClient(c, event.CallAccepted, event.CallAcceptedPayload{
			CallID:      res.Call.ID,
			ChannelName: res.Call.ChannelName,
			Token:       res.Credential.Token,
			UID:         res.Credential.UID,
			AppID:       res.Credential.AppID,
		})
		return nil

	case event.DeclineCall:
		declined, err := e.calls.DeclineCall(ctx, userID, msg.CallID)
		if err != nil {
			return err
		}
		e.registry.SendToClient(c, event.CallDeclined, event.CallStatusPayload{CallID: declined.ID, Status: declined.Status})
		return nil

	case event.CancelCall:
		cancelled, err := e.calls.CancelCall(ctx, userID, msg.CallID)
		if err != nil {
			return err
		}
		e.registry.SendToClient(c, event.CallCancelled, event.CallStatusPayload{CallID: cancelled.ID, Status: cancelled.Status})
		return nil

	case event.EndCall:
		// call_ended уходит обоим участникам из сервиса
		_, err := e.calls.EndCall(ctx, userID, msg.CallID)
		return err
	}
	return apperr.BadRequest("unknown event type "+string(msg.Type), nil)
}

func (e *EventRouter) sendError(c *ws.Client, requestType event.Type, err error) {
	appErr := apperr.From(err)
	if appErr.Code == apperr.CodeInternal {
		logger.Errorf("ws %s user=%s: %v", requestType, c.UserID(), err)
	}
	e.registry.SendToClient(c, event.Error, event.ErrorPayload{
		Code:        appErr.Code,
		Message:     appErr.Message,
		RequestType: requestType,
	})
}
