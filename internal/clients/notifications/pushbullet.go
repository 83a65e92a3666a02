package notifications

import (
	"fmt"

	"curator/internal/utils"

	"github.com/xconstruct/go-pushbullet"
)

// PushbulletClient implements the Notifier interface for Pushbullet.
type PushbulletClient struct {
	pb     *pushbullet.Client
	logger *utils.Logger
}

// NewPushbulletClient creates a new client for sending Pushbullet notifications.
func NewPushbulletClient(apiKey string, logger *utils.Logger) *PushbulletClient {
	return &PushbulletClient{
		pb:     pushbullet.New(apiKey),
		logger: logger,
	}
}

// sendPush sends a note to all of the user's devices.
func (c *PushbulletClient) sendPush(title, body string) {
	// The first argument to PushNote is the device iden. Empty means all devices.
	if err := c.pb.PushNote("", title, body); err != nil {
		c.logger.Error("Error sending Pushbullet notification:", err)
	}
}

func (c *PushbulletClient) NotifyClassifyComplete(succeeded, failed, skipped int) {
	title := "Library classification finished"
	body := fmt.Sprintf("%d classified, %d failed, %d already processed", succeeded, failed, skipped)
	c.sendPush(title, body)
}

func (c *PushbulletClient) NotifyDispatchComplete(succeeded, failed int) {
	title := "Torrents sent to download client"
	body := fmt.Sprintf("%d added, %d failed", succeeded, failed)
	c.sendPush(title, body)
}

// Test verifies the API key is valid by fetching user info.
func (c *PushbulletClient) Test() error {
	if _, err := c.pb.Me(); err != nil {
		return fmt.Errorf("pushbullet authentication failed: %w", err)
	}
	return nil
}
