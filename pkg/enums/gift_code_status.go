package enums

import "fmt"

// GiftCodeStatus tracks redemption of an issued gift code.
type GiftCodeStatus string

const (
	GiftCodeStatusUnredeemed GiftCodeStatus = "unredeemed"
	GiftCodeStatusRedeemed   GiftCodeStatus = "redeemed"
)

func (s GiftCodeStatus) String() string {
	return string(s)
}

// ParseGiftCodeStatus converts raw input into a GiftCodeStatus.
func ParseGiftCodeStatus(value string) (GiftCodeStatus, error) {
	switch GiftCodeStatus(value) {
	case GiftCodeStatusUnredeemed, GiftCodeStatusRedeemed:
		return GiftCodeStatus(value), nil
	}
	return "", fmt.Errorf("invalid gift code status %q", value)
}
