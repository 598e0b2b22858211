package utils

import (
	"fmt"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhoneNumber returns the E.164 form of phoneNumber, parsing numbers
// without a country prefix in the given region.
func NormalizePhoneNumber(phoneNumber, region string) (string, error) {
	p, err := libphonenumber.Parse(phoneNumber, region)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}
