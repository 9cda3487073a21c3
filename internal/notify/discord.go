package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tycoon/internal/domain"

	"github.com/bwmarrin/discordgo"
)

var kindColors = map[domain.MessageKind]int{
	domain.MsgMaintenanceWarning:  0xF1C40F,
	domain.MsgMaintenanceCritical: 0xE67E22,
	domain.MsgMinorEvent:          0xE74C3C,
	domain.MsgCatastrophicEvent:   0x8B0000,
	domain.MsgShutdown:            0x2C3E50,
}

// Discord sends each message as a direct-message embed. Owner ids are
// Discord user ids unless Recipient maps them.
type Discord struct {
	session *discordgo.Session

	// Recipient resolves an owner id to a Discord user id. Owners it
	// rejects are skipped without error.
	Recipient func(ownerID string) (string, bool)
}

func NewDiscord(token string) (*Discord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{session: s}, nil
}

func (d *Discord) Notify(ctx context.Context, ownerID string, msg domain.Message) error {
	userID := ownerID
	if d.Recipient != nil {
		var ok bool
		if userID, ok = d.Recipient(ownerID); !ok {
			return nil
		}
	}
	ch, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel for %s: %w", ownerID, err)
	}
	if _, err := d.session.ChannelMessageSendEmbed(ch.ID, Embed(msg, time.Now()), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send dm to %s: %w", ownerID, err)
	}
	return nil
}

// Embed renders msg as a Discord embed.
func Embed(msg domain.Message, at time.Time) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       kindColors[msg.Kind],
		Timestamp:   at.UTC().Format(time.RFC3339),
	}
	for _, f := range msg.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	return e
}
