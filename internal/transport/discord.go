package transport

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord is a Transport backed by bwmarrin/discordgo. Grounded on the
// teacher's internal/discord/bot.go for session construction, intents, and
// the AddHandler wiring; the interaction-button handling has no teacher
// precedent (the teacher's Discord bot only ever parses plain messages) and
// follows discordgo's own InteractionCreate pattern instead.
type Discord struct {
	session *discordgo.Session
	guildID string

	inbound chan CallbackEvent
}

// NewDiscord constructs the Discord transport and registers its handlers.
// Call Start to open the gateway connection.
func NewDiscord(token, guildID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("transport/discord: new session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	d := &Discord{
		session: session,
		guildID: guildID,
		inbound: make(chan CallbackEvent, 100),
	}
	session.AddHandler(d.handleInteraction)
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Printf("transport/discord: connected as %s#%s", r.User.Username, r.User.Discriminator)
	})
	return d, nil
}

// Start opens the gateway connection. It blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context) error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("transport/discord: open session: %w", err)
	}
	<-ctx.Done()
	return d.session.Close()
}

func (d *Discord) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("transport/discord: acknowledge interaction: %v", err)
	}

	d.inbound <- CallbackEvent{
		CallbackToken: data.CustomID,
		ChatID:        i.ChannelID,
		MessageID:     i.Message.ID,
		FromUser:      userID(i),
	}
}

func userID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// Send implements Transport.
func (d *Discord) Send(_ context.Context, chatID, text string, kb *Keyboard) (string, error) {
	msg := &discordgo.MessageSend{Content: text}
	if kb != nil {
		msg.Components = toComponents(kb)
	}
	sent, err := d.session.ChannelMessageSendComplex(chatID, msg)
	if err != nil {
		return "", fmt.Errorf("transport/discord: send: %w", translateDiscordError(err))
	}
	return sent.ID, nil
}

// Edit implements Transport.
func (d *Discord) Edit(_ context.Context, chatID, messageID, text string) error {
	edit := discordgo.NewMessageEdit(chatID, messageID)
	edit.SetContent(text)
	_, err := d.session.ChannelMessageEditComplex(edit)
	return translateDiscordError(err)
}

// Delete implements Transport.
func (d *Discord) Delete(_ context.Context, chatID, messageID string) error {
	return translateDiscordError(d.session.ChannelMessageDelete(chatID, messageID))
}

// Inbound implements Transport.
func (d *Discord) Inbound() <-chan CallbackEvent { return d.inbound }

// Dialect implements Transport.
func (d *Discord) Dialect() Dialect { return DiscordMarkdown{} }

func toComponents(kb *Keyboard) []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, len(kb.Rows))
	for i, row := range kb.Rows {
		buttons := make([]discordgo.MessageComponent, len(row))
		for j, btn := range row {
			buttons[j] = discordgo.Button{
				Label:    btn.Label,
				Style:    discordgo.SecondaryButton,
				CustomID: btn.Data,
			}
		}
		rows[i] = discordgo.ActionsRow{Components: buttons}
	}
	return rows
}

func translateDiscordError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if asRESTError(err, &restErr) {
		if restErr.Response != nil && restErr.Response.StatusCode == 429 {
			return &RateLimitSignal{RetryAfter: retryAfterFromHeader(restErr)}
		}
	}
	return err
}

func asRESTError(err error, target **discordgo.RESTError) bool {
	if re, ok := err.(*discordgo.RESTError); ok {
		*target = re
		return true
	}
	return false
}

func retryAfterFromHeader(_ *discordgo.RESTError) time.Duration {
	// discordgo's own internal rate limiter already waits out Discord's
	// bucket headers before a request returns 429 at all; a 429 reaching
	// here means the bucket info was unavailable, so fall back to a fixed
	// backoff rather than parsing raw header text.
	return time.Second
}
