// Package fcm delivers push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/phrazzld/dotlist-notify/internal/notify"
	"google.golang.org/api/option"
)

// ErrInvalidToken indicates FCM rejected the device token itself; resending
// to the same token will keep failing until the user registers a new one.
var ErrInvalidToken = errors.New("invalid or unregistered push token")

// messagingClient is the subset of *messaging.Client used here
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
}

// Config holds the Firebase settings.
type Config struct {
	// CredentialsFile is a service account JSON file. Empty means
	// application default credentials.
	CredentialsFile string

	// ProjectID overrides the project inferred from the credentials
	ProjectID string

	// DryRun validates messages without delivering them
	DryRun bool
}

// Client implements notify.PushSender on FCM.
type Client struct {
	messaging messagingClient
	dryRun    bool
	logger    *slog.Logger
}

// Verify interface compliance at compile time
var _ notify.PushSender = (*Client)(nil)

// New initializes a Firebase app and its messaging client. Extra options are
// appended after the ones derived from cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger, extra ...option.ClientOption) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	opts = append(opts, extra...)

	var appConfig *firebase.Config
	if cfg.ProjectID != "" {
		appConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, appConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}

	return newClient(mc, cfg.DryRun, logger), nil
}

func newClient(mc messagingClient, dryRun bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		messaging: mc,
		dryRun:    dryRun,
		logger:    logger.With(slog.String("component", "fcm"), slog.Bool("dry_run", dryRun)),
	}
}

// Send implements notify.PushSender. It returns the FCM message name.
func (c *Client) Send(ctx context.Context, token string, payload notify.PushPayload) (string, error) {
	msg := buildMessage(token, payload)

	var (
		id  string
		err error
	)
	if c.dryRun {
		id, err = c.messaging.SendDryRun(ctx, msg)
	} else {
		id, err = c.messaging.Send(ctx, msg)
	}
	if err != nil {
		if isTokenError(err) {
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return "", fmt.Errorf("fcm send failed: %w", err)
	}
	return id, nil
}

// buildMessage maps a payload onto an FCM message. The sound is set on both
// Android and APNs so the alert plays on either platform.
func buildMessage(token string, payload notify.PushPayload) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: payload.Sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: payload.Sound,
				},
			},
		},
	}
}

// isTokenError reports whether FCM rejected the registration token itself.
// INVALID_ARGUMENT is excluded: it also covers malformed payloads.
func isTokenError(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err)
}
