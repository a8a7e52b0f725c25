package domain

import (
	"fmt"
	"strings"
)

// Platform identifies an external messaging provider.
type Platform string

const (
	PlatformFacebook Platform = "FACEBOOK"
	PlatformWhatsApp Platform = "WHATSAPP"
)

func ParsePlatform(value string) (Platform, error) {
	switch Platform(strings.ToUpper(strings.TrimSpace(value))) {
	case PlatformFacebook:
		return PlatformFacebook, nil
	case PlatformWhatsApp:
		return PlatformWhatsApp, nil
	}

	return "", fmt.Errorf("unknown platform %q", value)
}

func (p Platform) Valid() bool {
	return p == PlatformFacebook || p == PlatformWhatsApp
}

// DisplayName is the human label used in fallback customer names ("Facebook User").
func (p Platform) DisplayName() string {
	switch p {
	case PlatformFacebook:
		return "Facebook"
	case PlatformWhatsApp:
		return "WhatsApp"
	default:
		return "Unknown"
	}
}

func (p Platform) String() string {
	return string(p)
}
