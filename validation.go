package auth

import (
	"fmt"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is assumed when a profile phone number carries no
// country prefix.
var DefaultPhoneRegion = "US"

// SignUpRequest carries the sign-up payload: credentials, the chosen role,
// and the profile fields the directory stores alongside the identity.
type SignUpRequest struct {
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	Role        string `form:"role" json:"role"`
	FirstName   string `form:"first_name" json:"first_name"`
	LastName    string `form:"last_name" json:"last_name"`
	Phone       string `form:"phone_number" json:"phone_number"`
	CompanyName string `form:"company_name" json:"company_name"`
}

// Validate will run validation rules
func (r SignUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.By(passwordStrength)),
		validation.Field(&r.Role, validation.Required, validation.By(validRole)),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Phone, validation.By(validPhone)),
		validation.Field(&r.CompanyName, validation.Length(0, 200)),
	)
}

// ValidatePasswordStrength applies the sign-up password policy: at least 8
// characters with upper, lower, digit, and symbol present.
func ValidatePasswordStrength(password string) error {
	return passwordStrength(password)
}

func passwordStrength(value any) error {
	password, _ := value.(string)
	if len(password) < 8 {
		return fmt.Errorf("must be at least 8 characters")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return fmt.Errorf("must contain upper and lower case letters, a digit, and a symbol")
	}

	return nil
}

func validRole(value any) error {
	role, _ := value.(string)
	if _, ok := ParseRole(role); !ok {
		return fmt.Errorf("must be one of: homeowner, professional, admin")
	}
	return nil
}

func validPhone(value any) error {
	phone, _ := value.(string)
	if phone == "" {
		return nil
	}

	parsed, err := phonenumbers.Parse(phone, DefaultPhoneRegion)
	if err != nil {
		return fmt.Errorf("must be a valid phone number")
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return fmt.Errorf("must be a valid phone number")
	}

	return nil
}

// NormalizePhone formats a profile phone number to E.164 when it parses,
// returning the input untouched otherwise.
func NormalizePhone(phone string) string {
	if phone == "" {
		return phone
	}

	parsed, err := phonenumbers.Parse(phone, DefaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return phone
	}

	return phonenumbers.Format(parsed, phonenumbers.E164)
}

// ValidateStringEquals builds an ozzo rule asserting equality, used for
// confirm-password fields.
func ValidateStringEquals(expected string) validation.RuleFunc {
	return func(value any) error {
		actual, _ := value.(string)
		if actual != expected {
			return fmt.Errorf("values do not match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field -> message map for rendering.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	ve, ok := err.(validation.Errors)
	if !ok {
		out["form"] = err.Error()
		return out
	}

	for field, fieldErr := range ve {
		out[field] = fieldErr.Error()
	}
	return out
}
