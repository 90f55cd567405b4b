// Package device classifies raw user agent strings into device type,
// operating system and browser.
package device

import (
	"strings"

	ua "github.com/mileusna/useragent"
	"github.com/olegbukatov/shortly/internal/models"
)

// Unknown is reported for every field that can't be determined.
const Unknown = "Unknown"

const (
	TypeDesktop = "Desktop"
	TypeMobile  = "Mobile"
	TypeTablet  = "Tablet"
	TypeBot     = "Bot"
)

// Classifier derives DeviceInfo from user agent strings. Classification is
// pure and side-effect-free; calling it repeatedly over a log history is safe.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify parses the user agent string. Malformed or empty input yields
// "Unknown" for every field it can't determine.
func (c *Classifier) Classify(userAgent string) models.DeviceInfo {
	info := models.DeviceInfo{
		DeviceType: Unknown,
		OS:         Unknown,
		Browser:    Unknown,
	}

	if strings.TrimSpace(userAgent) == "" {
		return info
	}

	parsed := ua.Parse(userAgent)

	switch {
	case parsed.Bot:
		info.DeviceType = TypeBot
	case parsed.Tablet:
		info.DeviceType = TypeTablet
	case parsed.Mobile:
		info.DeviceType = TypeMobile
	case parsed.Desktop:
		info.DeviceType = TypeDesktop
	}

	if parsed.OS != "" {
		info.OS = parsed.OS
	}
	if parsed.Name != "" {
		info.Browser = parsed.Name
	}

	return info
}
