// Package mention finds the first organic chat mention of a token.
package mention

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/discord"
	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// DefaultBotName is the username of the listing bot whose messages never count as mentions.
const DefaultBotName = "Rick"

// Outcome describes what ResolveJob did.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"  // first mention written
	OutcomeNotFound Outcome = "not_found" // search returned no organic mention
	OutcomeSkipped  Outcome = "skipped"   // record missing or already resolved
)

// SearchSource runs a channel-scoped free-text search.
type SearchSource interface {
	SearchMessages(ctx context.Context, guildID, channelID, content string) ([]discord.Message, error)
}

// Store is the part of the token store the resolver writes to.
type Store interface {
	GetByAddress(ctx context.Context, address string) (*domain.TokenRecord, error)
	SetFirstMention(ctx context.Context, address string, mention domain.Mention) (bool, error)
}

// Options configures Resolver.
type Options struct {
	Search    SearchSource
	Store     Store
	GuildID   string
	ChannelID string
	BotName   string // Default: Rick
	Logger    zerolog.Logger
}

// Resolver resolves first mentions for queued token addresses.
type Resolver struct {
	search    SearchSource
	store     Store
	guildID   string
	channelID string
	botName   string
	logger    zerolog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(opts Options) *Resolver {
	botName := opts.BotName
	if botName == "" {
		botName = DefaultBotName
	}
	return &Resolver{
		search:    opts.Search,
		store:     opts.Store,
		guildID:   opts.GuildID,
		channelID: opts.ChannelID,
		botName:   botName,
		logger:    opts.Logger.With().Str("component", "mention").Logger(),
	}
}

// FindFirstMention returns the first search hit, in provider order, that was not posted by
// the listing bot and contains address verbatim. Returns nil without error when there is none.
func (r *Resolver) FindFirstMention(ctx context.Context, address string) (*domain.Mention, error) {
	messages, err := r.search.SearchMessages(ctx, r.guildID, r.channelID, address)
	if err != nil {
		return nil, fmt.Errorf("search mentions of %s: %w", address, err)
	}

	for _, msg := range messages {
		if msg.Author == nil || msg.Author.Username == r.botName {
			continue
		}
		if !strings.Contains(msg.Content, address) {
			continue
		}
		return &domain.Mention{
			Username:  msg.Author.Username,
			DiscordID: msg.Author.ID,
			Timestamp: msg.Timestamp.UTC(),
		}, nil
	}
	return nil, nil
}

// ResolveJob resolves and stores the first mention of address.
// Unknown addresses and records that already carry a mention are skipped without searching.
func (r *Resolver) ResolveJob(ctx context.Context, address string) (Outcome, error) {
	rec, err := r.store.GetByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Debug().Str("address", address).Msg("no record for mention job")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if rec.FirstMention != nil {
		return OutcomeSkipped, nil
	}

	mention, err := r.FindFirstMention(ctx, address)
	if err != nil {
		return "", err
	}
	if mention == nil {
		r.logger.Debug().Str("address", address).Msg("no organic mention found")
		return OutcomeNotFound, nil
	}

	written, err := r.store.SetFirstMention(ctx, address, *mention)
	if err != nil {
		return "", fmt.Errorf("set first mention: %w", err)
	}
	if !written {
		return OutcomeSkipped, nil
	}

	r.logger.Info().Str("address", address).Str("username", mention.Username).Msg("first mention resolved")
	return OutcomeResolved, nil
}
