package model

import (
	"fmt"
	"strings"
)

// Channel is the messaging medium a credit balance applies to.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

var ErrUnknownChannel = fmt.Errorf("unknown channel")

// ParseChannel normalizes s and rejects anything outside the closed set.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelSMS:
		return ChannelSMS, nil
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// CreditsColumn is the tenant balance column incremented by a top-up on this channel.
func (c Channel) CreditsColumn() (string, error) {
	switch c {
	case ChannelSMS:
		return "sms_credits", nil
	case ChannelWhatsApp:
		return "whatsapp_credits", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, string(c))
}

func (c Channel) String() string { return string(c) }
