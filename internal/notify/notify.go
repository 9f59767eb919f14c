// Package notify posts machine lifecycle events to a Slack channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"

	"github.com/exoswitch/exoswitch/pkg/protocol"
)

const postTimeout = 10 * time.Second

// Config holds Slack client settings.
type Config struct {
	Token  string
	APIURL string // overrides the Slack API base URL, for tests
}

// SlackClient abstracts the Slack API method the notifier uses.
type SlackClient interface {
	PostMessage(ctx context.Context, channel, text string) error
}

// realSlackClient wraps the slack-go/slack client.
type realSlackClient struct {
	client *slackapi.Client
}

func (c *realSlackClient) PostMessage(ctx context.Context, channel, text string) error {
	_, _, err := c.client.PostMessageContext(ctx, channel,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionDisableLinkUnfurl())
	return err
}

// NewSlackClient returns a SlackClient backed by slack-go.
func NewSlackClient(cfg Config) SlackClient {
	var opts []slackapi.Option
	if cfg.APIURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(cfg.APIURL))
	}
	return &realSlackClient{client: slackapi.New(cfg.Token, opts...)}
}

// Notifier relays events from NATS to Slack.
type Notifier struct {
	nc      *nats.Conn
	sc      SlackClient
	channel string
	sub     *nats.Subscription
	logger  zerolog.Logger
}

// New creates a Notifier. Call Start to subscribe.
func New(nc *nats.Conn, sc SlackClient, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		nc:      nc,
		sc:      sc,
		channel: channel,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Start subscribes to all exoswitch events.
func (n *Notifier) Start() error {
	sub, err := n.nc.Subscribe(protocol.SubjectAllEvents, n.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	n.sub = sub
	n.logger.Info().Str("channel", n.channel).Msg("slack notifications enabled")
	return nil
}

// Close unsubscribes.
func (n *Notifier) Close() {
	if n.sub != nil {
		n.sub.Unsubscribe()
	}
}

func (n *Notifier) handleEvent(msg *nats.Msg) {
	var ev protocol.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		n.logger.Error().Err(err).Str("subject", msg.Subject).Msg("unmarshal event")
		return
	}
	text, ok := FormatEvent(ev)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	if err := n.sc.PostMessage(ctx, n.channel, text); err != nil {
		n.logger.Error().Err(err).Str("type", ev.Type).Msg("post to slack")
		return
	}
	n.logger.Debug().Str("type", ev.Type).Msg("posted to slack")
}

// FormatEvent renders ev as a Slack message. Status checks are not posted.
func FormatEvent(ev protocol.Event) (string, bool) {
	serverID := str(ev.Payload, "server_id")
	switch ev.Type {
	case protocol.EventStartRequested:
		return fmt.Sprintf(":arrow_forward: Start requested for `%s` (job `%s`)", serverID, str(ev.Payload, "jobid")), true
	case protocol.EventStopRequested:
		return fmt.Sprintf(":double_vertical_bar: Stop requested for `%s` (job `%s`)", serverID, str(ev.Payload, "jobid")), true
	case protocol.EventJobFinished:
		if status, _ := ev.Payload["jobstatus"].(float64); status == 2 {
			return fmt.Sprintf(":x: Job `%s` for `%s` failed", str(ev.Payload, "jobid"), serverID), true
		}
		return fmt.Sprintf(":white_check_mark: Job `%s` for `%s` succeeded", str(ev.Payload, "jobid"), serverID), true
	case protocol.EventConfigReloaded:
		return fmt.Sprintf(":gear: Configuration reloaded, managing `%s`", serverID), true
	}
	return "", false
}

func str(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}
