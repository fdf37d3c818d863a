package tools

import "context"

type contextKey string

const (
	conversationIDKey contextKey = "conversation_id"
	usernameKey       contextKey = "username"
)

// WithConversationID adds the conversation ID to the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext extracts the conversation ID from the context.
// Returns "" if not set.
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}

// WithUsername binds the authenticated user to the context. Adapters
// act on this user whatever username the model passes.
func WithUsername(ctx context.Context, username string) context.Context {
	if username == "" {
		return ctx
	}
	return context.WithValue(ctx, usernameKey, username)
}

// UsernameFromContext returns the user bound by WithUsername, or "".
func UsernameFromContext(ctx context.Context) string {
	u, _ := ctx.Value(usernameKey).(string)
	return u
}
