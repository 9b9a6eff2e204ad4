// Package affiliate records monetizable user actions (affiliate link clicks
// and the purchases they lead to) and derives attribution and revenue
// analytics from them.
package affiliate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEvent is returned, wrapped with the offending field, when a click
// or conversion fails validation.
var ErrInvalidEvent = errors.New("invalid affiliate event")

// Source is the surface a click originated from.
type Source string

const (
	SourceRecommendation Source = "recommendation"
	SourceSearch         Source = "search"
	SourceCategory       Source = "category"
	SourceDirect         Source = "direct"
)

// eventValidate checks the validate tags on ClickEvent and ConversionEvent.
// Errors name fields by their JSON key.
var eventValidate *validator.Validate

func init() {
	eventValidate = validator.New()
	eventValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateEvent runs the struct tags on ev and wraps the first failure in
// ErrInvalidEvent.
func validateEvent(ev interface{}) error {
	err := eventValidate.Struct(ev)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidEvent, fe.Field())
	case "oneof":
		return fmt.Errorf("%w: %s %q is not one of %s", ErrInvalidEvent, fe.Field(), fe.Value(), fe.Param())
	case "gte":
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidEvent, fe.Field())
	case "min":
		return fmt.Errorf("%w: %s must be at least %s", ErrInvalidEvent, fe.Field(), fe.Param())
	case "gtefield":
		return fmt.Errorf("%w: %s precedes clicked_at", ErrInvalidEvent, fe.Field())
	}
	return fmt.Errorf("%w: %s failed %s", ErrInvalidEvent, fe.Field(), fe.Tag())
}

// ClickEvent is one affiliate link click.
type ClickEvent struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id,omitempty"`
	ASIN         string    `json:"asin,omitempty"`
	Category     string    `json:"category,omitempty"`
	Price        float64   `json:"price,omitempty" validate:"gte=0"`
	Currency     string    `json:"currency,omitempty"`
	AffiliateURL string    `json:"affiliate_url" validate:"required"`
	OriginalURL  string    `json:"original_url,omitempty"`
	Source       Source    `json:"source" validate:"oneof=recommendation search category direct"`
	UserID       string    `json:"user_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at" validate:"required"`
	Referrer     string    `json:"referrer,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// Validate checks the fields a click cannot be recorded without.
func (c ClickEvent) Validate() error {
	return validateEvent(c)
}

// ConversionEvent is a purchase reported back by the affiliate program.
type ConversionEvent struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id" validate:"required"`
	ProductID    string    `json:"product_id,omitempty"`
	ASIN         string    `json:"asin,omitempty"`
	Revenue      float64   `json:"revenue" validate:"gte=0"`
	Commission   float64   `json:"commission" validate:"gte=0"`
	Currency     string    `json:"currency" validate:"required"`
	Quantity     int       `json:"quantity" validate:"min=1"`
	Category     string    `json:"category,omitempty"`
	AffiliateURL string    `json:"affiliate_url" validate:"required"`
	ClickedAt    time.Time `json:"clicked_at" validate:"required"`
	ConvertedAt  time.Time `json:"converted_at" validate:"required,gtefield=ClickedAt"`
	UserID       string    `json:"user_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
}

// Validate checks required fields and that the conversion does not precede
// its click.
func (c ConversionEvent) Validate() error {
	return validateEvent(c)
}
