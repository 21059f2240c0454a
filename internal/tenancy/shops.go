package tenancy

import (
	"strings"
)

// NormalizeShop canonicalises a tenant identifier: trimmed, lower case, with
// any scheme or trailing path removed. It does not require a myshopify.com
// domain; any non-empty identifier is a tenant.
func NormalizeShop(shop string) string {
	s := strings.ToLower(strings.TrimSpace(shop))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}
