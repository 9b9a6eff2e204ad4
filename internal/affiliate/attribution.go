package affiliate

import "time"

// Attribution links a conversion to the click credited with it.
type Attribution struct {
	Click            ClickEvent    `json:"click"`
	Source           Source        `json:"source"`
	TimeToConversion time.Duration `json:"time_to_conversion"`
}

// Attribute returns the first click, in ledger order, for the same product
// that happened no later than conv.ClickedAt. Products are matched on
// ProductID, or on ASIN when the conversion carries no ProductID.
//
// First-match is not necessarily the most recent qualifying click; with
// several clicks on one product the earliest recorded one gets the credit.
func Attribute(conv ConversionEvent, clicks []ClickEvent) (Attribution, bool) {
	match := func(c ClickEvent) bool {
		switch {
		case conv.ProductID != "":
			return c.ProductID == conv.ProductID
		case conv.ASIN != "":
			return c.ASIN == conv.ASIN
		default:
			return false
		}
	}

	for _, c := range clicks {
		if !match(c) || c.OccurredAt.After(conv.ClickedAt) {
			continue
		}
		return Attribution{
			Click:            c,
			Source:           c.Source,
			TimeToConversion: conv.ConvertedAt.Sub(c.OccurredAt),
		}, true
	}
	return Attribution{}, false
}
