package events

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
)

// WebhookGateway receives member events over http from a relay and pushes
// moderation actions back to it. The relay is whatever sits next to the chat
// platform and translates between its native api and these webhooks.
type WebhookGateway struct {
	relayURL  string
	token     string
	client    *http.Client
	events    chan MemberEvent
	connected atomic.Bool
}

// NewWebhookGateway creates a gateway posting actions to relayURL, authenticated
// with the shared token on both directions
func NewWebhookGateway(relayURL, token string, client *http.Client) *WebhookGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookGateway{
		relayURL: relayURL,
		token:    token,
		client:   client,
		events:   make(chan MemberEvent, 100),
	}
}

// Events returns the channel of inbound member events
func (g *WebhookGateway) Events() <-chan MemberEvent {
	return g.events
}

// Connected reports if the relay link is live, i.e. the last exchange with the
// relay succeeded. Starts false until the relay delivers an event or accepts
// an outbound request.
func (g *WebhookGateway) Connected() bool {
	return g.connected.Load()
}

// Handler returns the http handler accepting member events from the relay,
// mounted by the web server under /webhook/events
func (g *WebhookGateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.token != "" {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Relay-Token")), []byte(g.token)) != 1 {
				rest.SendErrorJSON(w, r, lgr.Default(), http.StatusForbidden, fmt.Errorf("bad token"), "access denied")
				return
			}
		}

		var event MemberEvent
		if err := json.NewDecoder(io.LimitReader(r.Body, 1024*1024)).Decode(&event); err != nil {
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to decode event")
			return
		}
		if event.Type != EventMemberJoin && event.Type != EventMemberUpdate {
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest,
				fmt.Errorf("unknown event type %q", event.Type), "failed to accept event")
			return
		}
		if event.Member.GuildID == "" || event.Member.MemberID == "" {
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest,
				fmt.Errorf("guild_id and member_id are required"), "failed to accept event")
			return
		}

		select {
		case g.events <- event:
			g.connected.Store(true)
			rest.RenderJSON(w, rest.JSON{"status": "accepted"})
		default:
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusServiceUnavailable,
				fmt.Errorf("event queue full"), "failed to accept event")
		}
	}
}

// Warn asks the relay to warn the member
func (g *WebhookGateway) Warn(ctx context.Context, guildID, memberID, reason string) error {
	return g.sendAction(ctx, "warn", guildID, memberID, reason)
}

// Kick asks the relay to kick the member
func (g *WebhookGateway) Kick(ctx context.Context, guildID, memberID, reason string) error {
	return g.sendAction(ctx, "kick", guildID, memberID, reason)
}

// Ban asks the relay to ban the member
func (g *WebhookGateway) Ban(ctx context.Context, guildID, memberID, reason string) error {
	return g.sendAction(ctx, "ban", guildID, memberID, reason)
}

// SendAlert posts a text alert for the guild's moderation channel
func (g *WebhookGateway) SendAlert(ctx context.Context, guildID, text string) error {
	return g.post(ctx, g.relayURL+"/alerts", map[string]string{"guild_id": guildID, "text": text})
}

func (g *WebhookGateway) sendAction(ctx context.Context, action, guildID, memberID, reason string) error {
	return g.post(ctx, g.relayURL+"/actions", map[string]string{
		"action":    action,
		"guild_id":  guildID,
		"member_id": memberID,
		"reason":    reason,
	})
}

func (g *WebhookGateway) post(ctx context.Context, url string, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to make relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("X-Relay-Token", g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.connected.Store(false)
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.connected.Store(false)
		return fmt.Errorf("relay returned %s for %s", resp.Status, url)
	}
	g.connected.Store(true)
	return nil
}
