package domain

import "fmt"

// Channel is one communication medium variant. The set is closed: every
// switch over Channel handles all variants, and unknown strings are
// rejected at the boundary by ParseChannel.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
	ChannelTwitter  Channel = "TWITTER"
	ChannelFacebook Channel = "FACEBOOK"
	ChannelTelegram Channel = "TELEGRAM"
)

// AllChannels returns every known channel variant in a stable order.
func AllChannels() []Channel {
	return []Channel{
		ChannelSMS,
		ChannelWhatsApp,
		ChannelEmail,
		ChannelTwitter,
		ChannelFacebook,
		ChannelTelegram,
	}
}

// ParseChannel validates a channel name coming off the wire.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelTwitter, ChannelFacebook, ChannelTelegram:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// ChatStyle reports whether the channel addresses contacts by a dedicated
// chat handle rather than a phone number or email address.
func (c Channel) ChatStyle() bool {
	return c == ChannelWhatsApp || c == ChannelTelegram
}

func (c Channel) String() string { return string(c) }
