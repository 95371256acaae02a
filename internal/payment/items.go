package payment

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultMaxItems caps line items sent to a provider unless a driver overrides it.
const DefaultMaxItems = 10

// aggregatedItemName labels the synthetic item that replaces an oversized basket.
func aggregatedItemName(count int) string {
	return fmt.Sprintf("Payment (%d items)", count)
}

// maxItems resolves the item cap: payable setting, then driver config, then fallback.
func maxItems(p *Payable, cfg DriverConfig, fallback int) int {
	if n := p.Settings.Int(SettingMaxItems, 0); n > 0 {
		return n
	}
	if cfg.MaxItems > 0 {
		return cfg.MaxItems
	}
	return fallback
}

// lineItems returns the items to send to a provider. Baskets larger than limit
// collapse into one item priced at the payable total. An empty basket
// becomes one item named after the description.
func lineItems(p *Payable, limit int) []LineItem {
	if len(p.Items) > limit {
		return []LineItem{{
			Name:     aggregatedItemName(len(p.Items)),
			Quantity: 1,
			Price:    p.Amount,
		}}
	}
	if len(p.Items) == 0 {
		name := p.Description
		if name == "" {
			name = p.Reference
		}
		return []LineItem{{Name: name, Quantity: 1, Price: p.Amount}}
	}
	out := make([]LineItem, len(p.Items))
	for i, it := range p.Items {
		if it.Quantity <= 0 {
			it.Quantity = 1
		}
		out[i] = it
	}
	return out
}

// appendQuery adds key=value to rawURL keeping any existing query intact.
// value is inserted verbatim so provider placeholders survive.
func appendQuery(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}
	fragment := ""
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL, fragment = rawURL[:i], rawURL[i:]
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
		if strings.HasSuffix(rawURL, "?") || strings.HasSuffix(rawURL, "&") {
			sep = ""
		}
	}
	return rawURL + sep + key + "=" + value + fragment
}

// withReference appends the payable reference to a return or cancel URL.
func withReference(rawURL, reference string) string {
	return appendQuery(rawURL, "reference", url.QueryEscape(reference))
}

// formatMajor renders minor units as a decimal string with two places.
func formatMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
