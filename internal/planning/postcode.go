package planning

import (
	"regexp"
	"strings"
)

var (
	compactPostcode = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]?[0-9][A-Z]{2}$`)
	postcodeInText  = regexp.MustCompile(`\b([A-Z]{1,2}[0-9][A-Z0-9]?)\s*([0-9][A-Z]{2})\b`)
	outwardCode     = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]?$`)
)

// CompactPostcode upper-cases s and strips all whitespace. It is the form
// used for cache keys and lookups.
func CompactPostcode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// NormalizePostcode returns the display form ("PO1 2AB") of a full UK
// postcode, or false when s is not a full postcode.
func NormalizePostcode(s string) (string, bool) {
	c := CompactPostcode(s)
	if !compactPostcode.MatchString(c) {
		return "", false
	}
	return c[:len(c)-3] + " " + c[len(c)-3:], true
}

// ExtractPostcode finds the last full postcode in free text, typically an
// address line.
func ExtractPostcode(text string) (string, bool) {
	matches := postcodeInText.FindAllStringSubmatch(strings.ToUpper(text), -1)
	if len(matches) == 0 {
		return "", false
	}
	m := matches[len(matches)-1]
	return NormalizePostcode(m[1] + m[2])
}

// Sector returns the outward code of a postcode in display or compact form.
// The inward code is always the final three characters.
func Sector(postcode string) string {
	c := CompactPostcode(postcode)
	if len(c) < 5 {
		return ""
	}
	return c[:len(c)-3]
}

// Area returns the leading letters of a sector ("PO1" gives "PO", "W1A" gives "W").
func Area(sector string) string {
	s := strings.ToUpper(strings.TrimSpace(sector))
	end := 0
	for end < len(s) && end < 2 && s[end] >= 'A' && s[end] <= 'Z' {
		end++
	}
	return s[:end]
}

// ShardKey returns the "{AREA}/{SECTOR}" key of the shard holding postcode,
// or "" when the postcode has no sector.
func ShardKey(postcode string) string {
	sector := Sector(postcode)
	if sector == "" {
		return ""
	}
	area := Area(sector)
	if area == "" {
		return ""
	}
	return area + "/" + sector
}

// LookupSector accepts either a full postcode or a bare outward code ("PO1")
// and returns the sector.
func LookupSector(s string) (string, bool) {
	if pc, ok := NormalizePostcode(s); ok {
		return Sector(pc), true
	}
	c := CompactPostcode(s)
	if outwardCode.MatchString(c) {
		return c, true
	}
	return "", false
}
