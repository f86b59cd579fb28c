// Package ingestion polls the listing channel and turns bot messages into mention events.
package ingestion

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/discord"
	"github.com/bbopar/discord-token-tracker/internal/discovery"
	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/observability"
)

// DefaultBotName is the username of the listing bot.
const DefaultBotName = "Rick"

// MessageSource reads the latest messages of a channel.
type MessageSource interface {
	ChannelMessages(ctx context.Context, channelID string, limit int) ([]discord.Message, error)
}

// PollerOptions contains configuration for creating a Poller.
type PollerOptions struct {
	Source    MessageSource
	ChannelID string
	BotName   string // Default: Rick
	Limit     int    // Default: 50
	Logger    zerolog.Logger
}

// Poller reads one page of channel history per call.
type Poller struct {
	source     MessageSource
	channelID  string
	botName    string
	limit      int
	classifier *discovery.Classifier
	logger     zerolog.Logger
}

// NewPoller creates a new Poller.
func NewPoller(opts PollerOptions) *Poller {
	botName := opts.BotName
	if botName == "" {
		botName = DefaultBotName
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = discord.DefaultLimit
	}

	return &Poller{
		source:     opts.Source,
		channelID:  opts.ChannelID,
		botName:    botName,
		limit:      limit,
		classifier: discovery.NewClassifier(),
		logger:     opts.Logger.With().Str("component", "ingestion").Logger(),
	}
}

// Poll fetches the latest channel messages and returns their mention events in chat order.
func (p *Poller) Poll(ctx context.Context) ([]*domain.MentionEvent, error) {
	messages, err := p.source.ChannelMessages(ctx, p.channelID, p.limit)
	if err != nil {
		return nil, fmt.Errorf("fetch channel messages: %w", err)
	}
	return p.Extract(messages), nil
}

// Extract classifies bot messages and attaches poster and timestamp.
// Events missing ticker, link, address or a poster are dropped.
func (p *Poller) Extract(messages []discord.Message) []*domain.MentionEvent {
	var events []*domain.MentionEvent

	for i := range messages {
		msg := &messages[i]
		if msg.Author == nil || msg.Author.Username != p.botName || !msg.Author.Bot {
			continue
		}

		event, ok := p.classifier.Classify(msg.Content)
		if !ok {
			observability.RecordMessageIgnored()
			p.logger.Debug().Str("message_id", msg.ID).Msg("bot message did not classify")
			continue
		}

		event.Poster = poster(msg)
		event.MessageTimestamp = msg.Timestamp.UTC()

		if event.Ticker == "" || event.PumpLink == "" || event.TokenAddress == "" ||
			event.Poster == nil || event.Poster.Username == "" || event.Poster.DiscordID == "" {
			p.logger.Debug().Str("message_id", msg.ID).Str("address", event.TokenAddress).Msg("dropping incomplete mention")
			continue
		}
		events = append(events, event)
	}

	SortEvents(events)
	return events
}

// poster is the first mentioned user, else the author of the replied-to message.
func poster(msg *discord.Message) *domain.User {
	if len(msg.Mentions) > 0 {
		return &domain.User{Username: msg.Mentions[0].Username, DiscordID: msg.Mentions[0].ID}
	}
	if msg.ReferencedMessage != nil && msg.ReferencedMessage.Author != nil {
		a := msg.ReferencedMessage.Author
		return &domain.User{Username: a.Username, DiscordID: a.ID}
	}
	return nil
}
