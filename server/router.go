package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/sealchat/metrics"
	"github.com/gosuda/sealchat/store"
	"github.com/gosuda/sealchat/wire"
)

// Router decides, per chat message, between live delivery to an online
// recipient and offline persistence.
type Router struct {
	registry *Registry
	messages store.AccountStore
	obs      metrics.Observer
}

func NewRouter(registry *Registry, messages store.AccountStore, obs metrics.Observer) *Router {
	if obs == nil {
		obs = metrics.NopObserver
	}
	return &Router{registry: registry, messages: messages, obs: obs}
}

// RouteChat handles one chat envelope from an authenticated sender.
// It returns the response envelope owed to the sender, or nil when
// none is (live delivery is not acknowledged). A non-nil error means
// the session should be torn down.
//
// The sender identity always comes from the session; a sender_id in
// the payload is ignored.
func (rt *Router) RouteChat(ctx context.Context, sender *Session, env *wire.Envelope) (*wire.Envelope, error) {
	if !env.PayloadHasKeys("recipient_id", "text") {
		rt.obs.Chat(metrics.RouteMalformed)
		return errorResponse("Malformed chat envelope.")
	}
	var chat wire.ChatPayload
	if err := env.DecodePayload(&chat); err != nil {
		rt.obs.Chat(metrics.RouteMalformed)
		return errorResponse("Malformed chat envelope.")
	}

	user := sender.User()
	if user == nil {
		return nil, fmt.Errorf("route chat: sender session has no user")
	}

	if recipient := rt.registry.Get(chat.RecipientID); recipient != nil {
		msg, err := wire.NewEnvelope(wire.TypeNewMessage, wire.NewMessagePayload{
			SenderID:   user.ID,
			SenderName: user.FullName,
			Text:       chat.Text,
		})
		if err != nil {
			return nil, fmt.Errorf("route chat: encode new_message: %w", err)
		}
		// Delivery is best-effort once the recipient is online: a
		// failed write means the recipient is going away and its own
		// teardown handles the rest.
		if err := recipient.Send(msg); err != nil {
			log.Warn().
				Err(err).
				Str("sender_id", user.ID).
				Str("recipient_id", chat.RecipientID).
				Msg("[Router] live delivery failed")
		}
		rt.obs.Chat(metrics.RouteDelivered)
		return nil, nil
	}

	if _, err := rt.messages.StoreMessage(ctx, user.ID, chat.RecipientID, []byte(chat.Text)); err != nil {
		return nil, fmt.Errorf("route chat: store offline message: %w", err)
	}
	rt.obs.Chat(metrics.RouteStored)
	return infoResponse("Recipient is offline. Message stored.")
}

func errorResponse(message string) (*wire.Envelope, error) {
	return wire.NewEnvelope(wire.TypeResponse, wire.ResponsePayload{
		Status:  wire.StatusError,
		Message: message,
	})
}

func infoResponse(message string) (*wire.Envelope, error) {
	return wire.NewEnvelope(wire.TypeResponse, wire.ResponsePayload{
		Status:  wire.StatusInfo,
		Message: message,
	})
}
