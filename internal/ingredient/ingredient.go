// Package ingredient turns free-text ingredient lines such as "2 cups flour"
// into a display label, a normalized merge key and the quantity parts.
//
// Both the server batch processor and the client list store normalize
// through this package so that the same line always lands on the same key.
package ingredient

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

type Parsed struct {
	Label           string
	NormalizedLabel string
	QuantityText    string
	AmountValue     *float64
	MeasureText     string
}

// Func is the normalizer contract. ok is false when no usable label remains.
type Func func(text string) (Parsed, bool)

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	fractionRe    = regexp.MustCompile(`^(\d+)/(\d+)$`)
	decimalRe     = regexp.MustCompile(`^\d+(\.\d+)?$`)
	rangeRe       = regexp.MustCompile(`^([\d./]+)-([\d./]+)$`)
	glued         = regexp.MustCompile(`^([\d./]+)([a-zA-Z]+)$`)
)

var unicodeFractions = map[rune]float64{
	'¼': 0.25, '½': 0.5, '¾': 0.75,
	'⅓': 1.0 / 3, '⅔': 2.0 / 3,
	'⅛': 0.125, '⅜': 0.375, '⅝': 0.625, '⅞': 0.875,
}

var units = map[string]bool{
	"cup": true, "cups": true, "c": true,
	"tbsp": true, "tbsps": true, "tablespoon": true, "tablespoons": true, "tbs": true,
	"tsp": true, "tsps": true, "teaspoon": true, "teaspoons": true,
	"oz": true, "ounce": true, "ounces": true, "fl": true,
	"lb": true, "lbs": true, "pound": true, "pounds": true,
	"g": true, "gram": true, "grams": true, "kg": true, "kilogram": true, "kilograms": true,
	"ml": true, "l": true, "liter": true, "liters": true, "litre": true, "litres": true,
	"pinch": true, "pinches": true, "dash": true, "dashes": true,
	"clove": true, "cloves": true, "can": true, "cans": true,
	"package": true, "packages": true, "pkg": true,
	"bunch": true, "bunches": true, "slice": true, "slices": true,
	"stick": true, "sticks": true, "sprig": true, "sprigs": true,
	"head": true, "heads": true, "jar": true, "jars": true,
	"bottle": true, "bottles": true, "quart": true, "quarts": true,
	"pint": true, "pints": true, "gallon": true, "gallons": true,
	"handful": true, "handfuls": true, "piece": true, "pieces": true,
}

// Parse is the reference normalizer.
func Parse(text string) (Parsed, bool) {
	line := parenthetical.ReplaceAllString(text, " ")
	if i := strings.IndexByte(line, ','); i >= 0 {
		line = line[:i]
	}
	tokens := splitTokens(line)
	qty, amount, measure, i := scanQuantity(tokens)

	label := strings.Join(tokens[i:], " ")
	normalized := NormalizeLabel(label)
	if normalized == "" {
		return Parsed{}, false
	}

	quantityText := strings.Join(qty, " ")
	if measure != "" {
		quantityText = strings.TrimSpace(quantityText + " " + measure)
	}

	return Parsed{
		Label:           label,
		NormalizedLabel: normalized,
		QuantityText:    quantityText,
		AmountValue:     amount,
		MeasureText:     measure,
	}, true
}

// SplitQuantity splits a bare quantity such as "3 cups" into its amount and
// the measure text that follows it.
func SplitQuantity(text string) (*float64, string) {
	tokens := splitTokens(text)
	_, amount, measure, i := scanQuantity(tokens)
	if rest := strings.Join(tokens[i:], " "); rest != "" {
		measure = strings.TrimSpace(measure + " " + rest)
	}
	return amount, measure
}

func scanQuantity(tokens []string) (qty []string, amount *float64, measure string, i int) {
	for i < len(tokens) {
		v, ok := ParseQuantity(tokens[i])
		if !ok {
			if i+1 < len(tokens) && strings.EqualFold(tokens[i], "to") && len(qty) > 0 {
				if _, next := ParseQuantity(tokens[i+1]); next {
					qty = append(qty, tokens[i], tokens[i+1])
					i += 2
					continue
				}
			}
			break
		}
		qty = append(qty, tokens[i])
		if amount == nil {
			amount = &v
		} else if isPureFraction(tokens[i]) {
			sum := *amount + v
			amount = &sum
		}
		i++
	}

	if len(qty) > 0 && i < len(tokens) {
		word := strings.TrimSuffix(strings.ToLower(tokens[i]), ".")
		if units[word] {
			measure = tokens[i]
			i++
		}
	}
	if i < len(tokens) && strings.EqualFold(tokens[i], "of") && (len(qty) > 0 || measure != "") {
		i++
	}
	return qty, amount, measure, i
}

// ParseQuantity reads one quantity token: "2", "1.5", "1/2", "½", "1½" or a
// range such as "2-3", whose lower bound is returned.
func ParseQuantity(tok string) (float64, bool) {
	if tok == "" {
		return 0, false
	}
	if m := rangeRe.FindStringSubmatch(tok); m != nil {
		if lo, ok := ParseQuantity(m[1]); ok {
			if _, ok := ParseQuantity(m[2]); ok {
				return lo, true
			}
		}
		return 0, false
	}
	if decimalRe.MatchString(tok) {
		v, err := strconv.ParseFloat(tok, 64)
		return v, err == nil
	}
	if m := fractionRe.FindStringSubmatch(tok); m != nil {
		num, _ := strconv.ParseFloat(m[1], 64)
		den, _ := strconv.ParseFloat(m[2], 64)
		if den == 0 {
			return 0, false
		}
		return num / den, true
	}

	runes := []rune(tok)
	last := runes[len(runes)-1]
	frac, ok := unicodeFractions[last]
	if !ok {
		return 0, false
	}
	if len(runes) == 1 {
		return frac, true
	}
	whole, err := strconv.ParseFloat(string(runes[:len(runes)-1]), 64)
	if err != nil {
		return 0, false
	}
	return whole + frac, true
}

// NormalizeLabel lowercases, strips punctuation, collapses whitespace and
// singularizes the final word.
func NormalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = singular(words[len(words)-1])
	return strings.Join(words, " ")
}

func singular(w string) string {
	switch {
	case len(w) <= 3:
		return w
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "oes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

func isPureFraction(tok string) bool {
	if fractionRe.MatchString(tok) {
		return true
	}
	runes := []rune(tok)
	_, ok := unicodeFractions[runes[0]]
	return len(runes) == 1 && ok
}

// splitTokens splits on whitespace and separates glued quantities such as
// "200g" into "200", "g".
func splitTokens(line string) []string {
	var out []string
	for _, f := range strings.Fields(line) {
		if m := glued.FindStringSubmatch(f); m != nil && units[strings.ToLower(m[2])] {
			out = append(out, m[1], m[2])
			continue
		}
		out = append(out, f)
	}
	return out
}
