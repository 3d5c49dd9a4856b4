package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"personafeed/pkg/scheduler"
)

// Discord rejects messages longer than this.
const maxMessageLength = 2000

// Session is the part of *discordgo.Session the notifier needs.
type Session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts batch reports to a channel.
type Discord struct {
	session   Session
	channelID string
}

func NewDiscord(session Session, channelID string) *Discord {
	return &Discord{session: session, channelID: channelID}
}

// NewDiscordFromToken builds a REST-only bot session. No gateway connection is opened.
func NewDiscordFromToken(token, channelID string) (*Discord, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	return NewDiscord(dg, channelID), nil
}

func (d *Discord) NotifyBatch(ctx context.Context, r *scheduler.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.session.ChannelMessageSend(d.channelID, FormatReport(r)); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}

// FormatReport renders a report as a Discord message.
func FormatReport(r *scheduler.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Batch run** %s (%s)\n", r.StartedAt.UTC().Format("2006-01-02 15:04 MST"),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "Eligible %d · Posted %d · Skipped %d · Failed %d\n", r.Eligible, r.Posted, r.Skipped, r.Failed)

	for _, e := range r.Entries {
		line := fmt.Sprintf("- %s: %s", e.PersonaName, e.Result)
		switch e.Result {
		case scheduler.ResultPosted:
			if e.Mode != "" {
				line += " " + e.Mode
			}
		default:
			if e.Detail != "" {
				line += " (" + e.Detail + ")"
			}
		}
		if b.Len()+len(line)+1 > maxMessageLength-4 {
			b.WriteString("…\n")
			break
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
