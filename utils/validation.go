// utils/validation.go
package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	MaxPhotoBytes     = 10 << 20
	MaxPhotosPerItem  = 10
	MaxDimensionIn    = 120
	MaxWeightLb       = 2000
	MaxLabelLength    = 100
	MaxDescriptionLen = 1000
)

var (
	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	zipRegex   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

	maxDeclaredValue = decimal.NewFromInt(100000)

	photoExtensions = map[string]string{
		"image/jpeg": "jpg",
		"image/png":  "png",
		"image/webp": "webp",
		"image/heic": "heic",
	}
)

// ValidatePhone checks if a phone number is in a valid international format
func ValidatePhone(phone string) bool {
	// Clean the phone number
	cleaned := strings.ReplaceAll(phone, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "(", "")
	cleaned = strings.ReplaceAll(cleaned, ")", "")

	return phoneRegex.MatchString(cleaned)
}

// ValidateZip accepts 5-digit and ZIP+4 codes
func ValidateZip(zip string) bool {
	return zipRegex.MatchString(strings.TrimSpace(zip))
}

// NormalizeZip returns the 5-digit part of a ZIP code
func NormalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if len(zip) > 5 {
		return zip[:5]
	}
	return zip
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SafeRedirectPath only allows same-site relative paths
func SafeRedirectPath(path string) bool {
	return strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "//") && !strings.Contains(path, `\`)
}

// PhotoExtension returns the file extension for an accepted photo content type
func PhotoExtension(contentType string) (string, bool) {
	ext, ok := photoExtensions[strings.ToLower(contentType)]
	return ext, ok
}

// ValidatePhotoUpload checks the declared type and size of a photo
func ValidatePhotoUpload(contentType string, size int64) error {
	if _, ok := PhotoExtension(contentType); !ok {
		return fmt.Errorf("unsupported photo type %q", contentType)
	}
	if size <= 0 || size > MaxPhotoBytes {
		return fmt.Errorf("photo size must be between 1 byte and %d MB", MaxPhotoBytes>>20)
	}
	return nil
}

// ItemMeasurements are the physical fields of an inventory item
type ItemMeasurements struct {
	LengthIn, WidthIn, HeightIn, WeightLb float64
	DeclaredValue                         decimal.Decimal
}

// ValidateItemMeasurements enforces the ranges for dimensions, weight and value
func ValidateItemMeasurements(m ItemMeasurements) error {
	dims := []struct {
		name  string
		value float64
	}{{"length", m.LengthIn}, {"width", m.WidthIn}, {"height", m.HeightIn}}
	for _, d := range dims {
		if d.value < 0 || d.value > MaxDimensionIn {
			return fmt.Errorf("%s must be between 0 and %d inches", d.name, MaxDimensionIn)
		}
	}
	if m.WeightLb < 0 || m.WeightLb > MaxWeightLb {
		return fmt.Errorf("weight must be between 0 and %d lb", MaxWeightLb)
	}
	if m.DeclaredValue.IsNegative() || m.DeclaredValue.GreaterThan(maxDeclaredValue) {
		return errors.New("declared value must be between 0 and 100000")
	}
	if !m.DeclaredValue.Equal(m.DeclaredValue.Round(2)) {
		return errors.New("declared value can have at most 2 decimal places")
	}
	return nil
}

// SetupValidator makes binding errors use JSON field names
func SetupValidator() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// DescribeBindError turns a binding error into a short message for the client
func DescribeBindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid input: " + err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, e.Field()+" is required")
		case "email":
			msgs = append(msgs, e.Field()+" must be a valid email")
		case "max":
			msgs = append(msgs, e.Field()+" must be at most "+e.Param())
		case "min":
			msgs = append(msgs, e.Field()+" must be at least "+e.Param())
		case "oneof":
			msgs = append(msgs, e.Field()+" must be one of: "+e.Param())
		default:
			msgs = append(msgs, e.Field()+" is invalid")
		}
	}
	return "Invalid input: " + strings.Join(msgs, "; ")
}
