// Package announce posts coronations and great raids to a Discord channel.
package announce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nexus/internal/game"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
)

const (
	colorGold = 0xF1C40F
	colorRed  = 0xC0392B
)

type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord queues embeds and sends them from one goroutine so realm requests
// never wait on Discord. When the queue is full new notices are dropped.
type Discord struct {
	sender    embedSender
	channelID string
	log       *slog.Logger
	done      chan struct{}

	mu     sync.Mutex
	closed bool
	queue  chan *discordgo.MessageEmbed
}

func NewDiscord(token, channelID string, logger *slog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return newDiscord(session, channelID, logger), nil
}

func newDiscord(sender embedSender, channelID string, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discord{
		sender:    sender,
		channelID: channelID,
		log:       logger,
		queue:     make(chan *discordgo.MessageEmbed, 32),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Discord) run() {
	defer close(d.done)
	for embed := range d.queue {
		if _, err := d.sender.ChannelMessageSendEmbed(d.channelID, embed); err != nil {
			d.log.Warn("discord announce failed", "title", embed.Title, "err", err)
		}
	}
}

// Close stops accepting notices and waits for queued ones to be sent.
func (d *Discord) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Discord) Coronation(_ context.Context, n game.CoronationNotice) {
	d.enqueue(&discordgo.MessageEmbed{
		Title:       "A new ruler takes the throne",
		Description: fmt.Sprintf("**%s** has been crowned with a fortune of %s royal coins.", n.KingName, humanize.Comma(n.Wealth)),
		Color:       colorGold,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (d *Discord) GreatRaid(_ context.Context, n game.RaidNotice) {
	embed := &discordgo.MessageEmbed{
		Title:       "Great raid!",
		Description: fmt.Sprintf("**%s** sacked the castle of **%s**.", n.AttackerName, n.DefenderName),
		Color:       colorRed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Royal coins", Value: humanize.Comma(n.CoinsStolen), Inline: true},
		},
	}
	if !n.Resources.IsZero() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Supplies",
			Value: fmt.Sprintf("%s bananas, %s peanuts, %s bread, %s sandwiches",
				humanize.Comma(n.Resources.Bananas), humanize.Comma(n.Resources.Peanuts),
				humanize.Comma(n.Resources.Bread), humanize.Comma(n.Resources.Sandwiches)),
		})
	}
	d.enqueue(embed)
}

func (d *Discord) enqueue(embed *discordgo.MessageEmbed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Debug("discord announcer closed, notice dropped", "title", embed.Title)
		return
	}
	select {
	case d.queue <- embed:
	default:
		d.log.Warn("discord announce queue full, notice dropped", "title", embed.Title)
	}
}
