// Package events provides the member event pipeline. It receives member join and
// profile-update events from a gateway, runs them through the scanner and handles
// the results: recording detections, tracking scammer profiles, logging moderation
// actions and enforcing them through the gateway.
package events

import (
	"context"

	"github.com/HoboStank/discord-scammer-defense/app/bot"
)

// event types delivered by a gateway
const (
	EventMemberJoin   = "member_join"
	EventMemberUpdate = "member_update"
)

// MemberEvent is a single member change delivered by the gateway. Protected carries
// the snapshots of the guild's protected members (moderators, admins) to compare against.
type MemberEvent struct {
	Type      string        `json:"type"`
	Member    bot.Profile   `json:"member"`
	Protected []bot.Profile `json:"protected"`
}

// Gateway delivers member events and executes moderation actions. Implementations
// talk to the chat platform, the listener stays platform-agnostic.
type Gateway interface {
	Events() <-chan MemberEvent
	Warn(ctx context.Context, guildID, memberID, reason string) error
	Kick(ctx context.Context, guildID, memberID, reason string) error
	Ban(ctx context.Context, guildID, memberID, reason string) error
	SendAlert(ctx context.Context, guildID, text string) error
}
