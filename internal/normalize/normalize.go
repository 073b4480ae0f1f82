// Package normalize canonicalizes user-typed service identifiers and unit-set
// descriptions. ServiceID and Categorize affect identity and grouping;
// UnitSetDisplay is cosmetic only and must never be applied to map keys.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Category is the display group a service identifier belongs to.
type Category string

const (
	CategoryGreen  Category = "green"
	CategoryYellow Category = "yellow"
	CategoryOther  Category = "other"
)

// Categories lists all groups in display order.
var Categories = []Category{CategoryGreen, CategoryYellow, CategoryOther}

var threeDigitID = regexp.MustCompile(`^[Tt]?(\d{3})$`)

// ServiceID canonicalizes a service identifier: exactly three digits,
// optionally prefixed with the running-number marker in either case, become
// "T" plus the digits. Anything else passes through unchanged.
func ServiceID(raw string) string {
	if m := threeDigitID.FindStringSubmatch(raw); m != nil {
		return "T" + m[1]
	}
	return raw
}

var digitRun = regexp.MustCompile(`[Tt]?(\d+)`)

// Categorize maps a service identifier to its display group by the first run
// of exactly three digits: 101-112 is green, 121-136 is yellow, everything
// else (including identifiers with no such run) is other.
func Categorize(id string) Category {
	for _, m := range digitRun.FindAllStringSubmatch(id, -1) {
		if len(m[1]) != 3 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch {
		case n >= 101 && n <= 112:
			return CategoryGreen
		case n >= 121 && n <= 136:
			return CategoryYellow
		}
		return CategoryOther
	}
	return CategoryOther
}

// DisplayName returns the human phrase used in headers and placeholders.
func (c Category) DisplayName() string {
	switch c {
	case CategoryGreen:
		return "green line trains"
	case CategoryYellow:
		return "yellow line trains"
	default:
		return "other trains"
	}
}

// Header returns the section header for the category.
func (c Category) Header() string {
	switch c {
	case CategoryGreen:
		return "### Green line"
	case CategoryYellow:
		return "### Yellow line"
	default:
		return "### Other workings"
	}
}

// Decorative emoji prepended to recognized unit patterns.
const (
	class555Emoji = "<:class555:1358573606665195558>"
	metrocarEmoji = "<:metrocar:1332544654847115354>"
)

var (
	class555Loose = regexp.MustCompile(`(?:555|5) ?([0-9?x]{3})`)
	metrocarLoose = regexp.MustCompile(`(?:599|994|4) ?[0x?]([0-9?x]{2})`)

	metrocarSpaceChain = regexp.MustCompile(`40[0-9?x]{2}(?: 40[0-9?x]{2})+`)
	metrocarPlusChain  = regexp.MustCompile(`40[0-9?x]{2}(?: \+ 40[0-9?x]{2})+`)
	metrocarSepPair    = regexp.MustCompile(`(40[0-9?x]{2})(?: and | & | - |-| / |/| \\ |\\)(40[0-9?x]{2})`)

	class555Full  = regexp.MustCompile(`555\d[0-9?x]{2}`)
	metrocarCoupl = regexp.MustCompile(`40[0-9?x]{2}(?:\+40[0-9?x]{2})*`)

	trailingEmoji = regexp.MustCompile(`<a?:\w+:\d+> ?$`)
)

// UnitSetKey canonicalizes a unit-set description for use as a log key:
// unit-number shorthands are expanded and coupling separators become "+".
// No decoration is applied, so the result is stable under re-normalization.
func UnitSetKey(raw string) string {
	s := raw
	// Expand class 555 shorthands ("555 103", "5103") to 555xxx.
	s = replaceGuarded(s, class555Loose, notDigitAround, func(m []string) string {
		return "555" + m[1]
	})
	// Expand metrocar shorthands ("599 073", "994073", "4 073") to 40xx.
	s = replaceGuarded(s, metrocarLoose, notDigitAround, func(m []string) string {
		return "40" + m[1]
	})
	// "4073 4081" -> "4073+4081".
	s = replaceGuarded(s, metrocarSpaceChain, notCoupledAround, func(m []string) string {
		return strings.ReplaceAll(m[0], " ", "+")
	})
	// "4073 + 4081" -> "4073+4081".
	s = replaceGuarded(s, metrocarPlusChain, notCoupledAround, func(m []string) string {
		return strings.ReplaceAll(m[0], " ", "")
	})
	// "4073 and 4081", "4073/4081", "4073-4081", ... -> "4073+4081".
	// Applied to a fixed point so separator chains collapse pairwise.
	for {
		next := replaceGuarded(s, metrocarSepPair, notCoupledAround, func(m []string) string {
			return m[1] + "+" + m[2]
		})
		if next == s {
			break
		}
		s = next
	}
	return s
}

// UnitSetDisplay renders a unit-set description: the key canonicalization
// plus a decorative emoji on recognized units (with a question-mark marker
// when the unit number is uncertain). Map keys must never pass through here.
func UnitSetDisplay(raw string) string {
	s := UnitSetKey(raw)
	// Decorate class 555 units.
	s = replaceGuarded(s, class555Full, func(before, after string) bool {
		if endsWithDigit(before) || trailingEmoji.MatchString(before) {
			return false
		}
		return !startsWithAny(after, "0123456789x")
	}, decorate(class555Emoji))
	// Decorate metrocar sets (including coupled sets).
	s = replaceGuarded(s, metrocarCoupl, func(before, after string) bool {
		if endsWithAny(before, "+0123456789") || trailingEmoji.MatchString(before) {
			return false
		}
		return !startsWithAny(after, "+0123456789")
	}, decorate(metrocarEmoji))
	return s
}

// decorate prepends emoji (and a question-mark marker for uncertain digits)
// to the matched unit text.
func decorate(emoji string) func([]string) string {
	return func(m []string) string {
		if strings.Contains(m[0], "x") {
			return ":question:" + emoji + " " + m[0]
		}
		return emoji + " " + m[0]
	}
}

func notDigitAround(before, after string) bool {
	return !endsWithDigit(before) && !startsWithAny(after, "0123456789")
}

func notCoupledAround(before, after string) bool {
	return !endsWithAny(before, "+0123456789") && !startsWithAny(after, "+0123456789")
}

func endsWithDigit(s string) bool {
	return endsWithAny(s, "0123456789")
}

func endsWithAny(s, chars string) bool {
	return s != "" && strings.ContainsRune(chars, rune(s[len(s)-1]))
}

func startsWithAny(s, chars string) bool {
	return s != "" && strings.ContainsRune(chars, rune(s[0]))
}

// replaceGuarded rewrites every match of re for which guard approves the
// surrounding text. Guards stand in for the lookarounds the source patterns
// would otherwise need; they see the full text before and after the match.
func replaceGuarded(s string, re *regexp.Regexp, guard func(before, after string) bool, repl func(match []string) string) string {
	locs := re.FindAllStringSubmatchIndex(s, -1)
	if locs == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if start < last {
			continue
		}
		if !guard(s[:start], s[end:]) {
			continue
		}
		groups := make([]string, 0, len(loc)/2)
		for i := 0; i < len(loc); i += 2 {
			if loc[i] < 0 {
				groups = append(groups, "")
			} else {
				groups = append(groups, s[loc[i]:loc[i+1]])
			}
		}
		b.WriteString(s[last:start])
		b.WriteString(repl(groups))
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}
