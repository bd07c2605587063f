package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is the region used to parse phone numbers that arrive
// without an international prefix, e.g. "0712345678".
const DefaultPhoneRegion = "KE"

var (
	// rxPhone validates phone numbers according to the E.164 standard
	// https://en.wikipedia.org/wiki/E.164
	rxPhone                   = regexp.MustCompile(`^\+[1-9]{1}[0-9]{9,14}$`)
	ErrInvalidE164PhoneNumber = fmt.Errorf("the provided phone number is not a valid E.164 number")
)

// ValidatePhoneNumber checks that the string is a valid E.164 number.
func ValidatePhoneNumber(phoneNumberStr string) error {
	if phoneNumberStr == "" {
		return fmt.Errorf("phone number cannot be empty")
	}

	if !rxPhone.MatchString(phoneNumberStr) {
		return ErrInvalidE164PhoneNumber
	}

	parsedNumber, err := phonenumbers.Parse(phoneNumberStr, "")
	if err != nil || !phonenumbers.IsValidNumber(parsedNumber) {
		return ErrInvalidE164PhoneNumber
	}

	return nil
}

// NormalizePhoneNumber parses a raw phone number, using defaultRegion when no
// international prefix is present, and returns it formatted as E.164. Riders
// typically type local numbers ("0712345678"), the providers require
// "+254712345678".
func NormalizePhoneNumber(rawPhone, defaultRegion string) (string, error) {
	rawPhone = strings.TrimSpace(rawPhone)
	if rawPhone == "" {
		return "", fmt.Errorf("phone number cannot be empty")
	}

	if defaultRegion == "" {
		defaultRegion = DefaultPhoneRegion
	}

	parsedNumber, err := phonenumbers.Parse(rawPhone, defaultRegion)
	if err != nil {
		return "", ErrInvalidE164PhoneNumber
	}
	if !phonenumbers.IsValidNumber(parsedNumber) {
		return "", ErrInvalidE164PhoneNumber
	}

	return phonenumbers.Format(parsedNumber, phonenumbers.E164), nil
}

// rxEmail is used to validate e-mail addresses, according with the reference
// https://www.alexedwards.net/blog/validation-snippets-for-go#email-validation.
// It's free to use under the [MIT Licence](https://opensource.org/licenses/MIT)
var rxEmail = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+\\/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")

func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}

	if !rxEmail.MatchString(email) {
		return fmt.Errorf("the provided email is not valid")
	}

	return nil
}

// ValidateURL checks that the string is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if !govalidator.IsURL(rawURL) || !govalidator.IsRequestURL(rawURL) {
		return fmt.Errorf("%q is not a valid URL", rawURL)
	}

	return nil
}
