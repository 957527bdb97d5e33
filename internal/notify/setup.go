package notify

import (
	"fmt"

	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
)

// FromConfig builds a manager with every configured provider registered.
// A config with no channels yields a working manager that delivers to
// nobody, so callers never have to special-case "notifications off".
func FromConfig(cfg *config.NotificationConfig, logger *logging.Logger) (*Manager, error) {
	manager := NewManager(0, logger)
	if cfg == nil {
		return manager, nil
	}

	if cfg.Slack != nil {
		provider, err := CreateSlackProvider(cfg.Slack)
		if err != nil {
			return nil, fmt.Errorf("slack notifications: %w", err)
		}
		manager.Register(provider)
	}

	if cfg.PagerDuty != nil {
		provider, err := CreatePagerDutyProvider(cfg.PagerDuty)
		if err != nil {
			return nil, fmt.Errorf("pagerduty notifications: %w", err)
		}
		manager.Register(provider)
	}

	for i := range cfg.Webhooks {
		provider, err := CreateWebhookProvider(&cfg.Webhooks[i])
		if err != nil {
			return nil, fmt.Errorf("webhook notifications (%s): %w", cfg.Webhooks[i].Name, err)
		}
		manager.Register(provider)
	}

	return manager, nil
}
