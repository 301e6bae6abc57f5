package config

import (
	"fmt"
	"sync"

	"github.com/dukkan-app/dukkan/internal/whatsapp"
)

// SettingsView is a point-in-time copy of the runtime settings.
type SettingsView struct {
	Open            bool   `json:"open"`
	ClosedMessage   string `json:"closed_message"`
	ClosedMessageEn string `json:"closed_message_en,omitempty"`
	WhatsAppNumber  string `json:"whatsapp_number"`
}

// Settings holds the runtime-mutable part of AppConfig.
type Settings struct {
	mu          sync.RWMutex
	view        SettingsView
	countryCode string
}

// NewSettings seeds runtime settings from cfg.
func NewSettings(cfg AppConfig) *Settings {
	return &Settings{
		view: SettingsView{
			Open:            cfg.Open,
			ClosedMessage:   cfg.ClosedMessage,
			ClosedMessageEn: cfg.ClosedMessageEn,
			WhatsAppNumber:  cfg.WhatsAppNumber,
		},
		countryCode: cfg.CountryCode,
	}
}

// Get returns the current settings.
func (s *Settings) Get() SettingsView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// IsOpen reports whether checkout is accepted.
func (s *Settings) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Open
}

// Update applies a partial update decoded from JSON. Every key is checked
// before any is applied; on error nothing changes.
func (s *Settings) Update(updates map[string]any) (SettingsView, error) {
	type pending struct {
		open            *bool
		closedMessage   *string
		closedMessageEn *string
		whatsappNumber  *string
	}
	var p pending

	for k, v := range updates {
		switch k {
		case "open":
			b, ok := v.(bool)
			if !ok {
				return SettingsView{}, fmt.Errorf("%w: open must be a boolean", ErrInvalid)
			}
			p.open = &b
		case "closed_message", "closed_message_en":
			str, ok := v.(string)
			if !ok {
				return SettingsView{}, fmt.Errorf("%w: %s must be a string", ErrInvalid, k)
			}
			if len([]rune(str)) > 280 {
				return SettingsView{}, fmt.Errorf("%w: %s must be at most 280 characters", ErrInvalid, k)
			}
			if k == "closed_message" {
				p.closedMessage = &str
			} else {
				p.closedMessageEn = &str
			}
		case "whatsapp_number":
			str, ok := v.(string)
			if !ok {
				return SettingsView{}, fmt.Errorf("%w: whatsapp_number must be a string", ErrInvalid)
			}
			if _, err := whatsapp.NormalizePhone(str, s.countryCode); err != nil {
				return SettingsView{}, fmt.Errorf("%w: whatsapp_number: %w", ErrInvalid, err)
			}
			p.whatsappNumber = &str
		default:
			return SettingsView{}, fmt.Errorf("%w: unknown setting %q", ErrInvalid, k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.open != nil {
		s.view.Open = *p.open
	}
	if p.closedMessage != nil {
		s.view.ClosedMessage = *p.closedMessage
	}
	if p.closedMessageEn != nil {
		s.view.ClosedMessageEn = *p.closedMessageEn
	}
	if p.whatsappNumber != nil {
		s.view.WhatsAppNumber = *p.whatsappNumber
	}
	return s.view, nil
}

// Replace overwrites all settings, used when restoring state.
func (s *Settings) Replace(v SettingsView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}
