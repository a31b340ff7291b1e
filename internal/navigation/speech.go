package navigation

import (
	_ "embed"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// DefaultLocale is used when no locale is configured
const DefaultLocale = "ru"

//go:embed phrases.toml
var phrasesTOML string

type pluralForms struct {
	One      string `toml:"one"`
	Few      string `toml:"few"`
	Many     string `toml:"many"`
	Fraction string `toml:"fraction"`
}

type localePhrases struct {
	DecimalSeparator string      `toml:"decimal_separator"`
	Announcement     string      `toml:"announcement"`
	Proximity        string      `toml:"proximity"`
	Arrived          string      `toml:"arrived"`
	Cancelled        string      `toml:"cancelled"`
	PositionError    string      `toml:"position_error"`
	Meters           pluralForms `toml:"meters"`
	Kilometers       pluralForms `toml:"kilometers"`
}

// Phrasebook renders spoken text for one locale
type Phrasebook struct {
	locale  string
	phrases localePhrases
}

var loadPhrasebooks = sync.OnceValues(func() (map[string]*Phrasebook, error) {
	var file struct {
		Locales map[string]localePhrases `toml:"locales"`
	}
	if _, err := toml.Decode(phrasesTOML, &file); err != nil {
		return nil, fmt.Errorf("failed to decode phrasebook: %w", err)
	}

	books := make(map[string]*Phrasebook, len(file.Locales))
	for locale, phrases := range file.Locales {
		books[locale] = &Phrasebook{locale: locale, phrases: phrases}
	}
	return books, nil
})

// LoadPhrasebook returns the phrasebook for a locale
func LoadPhrasebook(locale string) (*Phrasebook, error) {
	books, err := loadPhrasebooks()
	if err != nil {
		return nil, err
	}
	book, ok := books[locale]
	if !ok {
		return nil, fmt.Errorf("unsupported locale %q", locale)
	}
	return book, nil
}

// MustPhrasebook is LoadPhrasebook for locales known to be embedded
func MustPhrasebook(locale string) *Phrasebook {
	book, err := LoadPhrasebook(locale)
	if err != nil {
		panic(err)
	}
	return book
}

// Locale returns the phrasebook locale
func (p *Phrasebook) Locale() string {
	return p.locale
}

// FormatDistanceSpeech speaks a distance in the default locale
func FormatDistanceSpeech(meters float64) string {
	return MustPhrasebook(DefaultLocale).FormatDistance(meters)
}

// FormatDistance speaks a distance. Below 1000 m it is rounded to the
// nearest 50 m and spoken in meters; from 1000 m it is rounded to the
// nearest 100 m and spoken in kilometers.
func (p *Phrasebook) FormatDistance(meters float64) string {
	if meters < 1000 {
		return p.plural(p.phrases.Meters, int(math.Round(meters/50)*50))
	}

	tenths := int(math.Round(meters / 100))
	if tenths%10 == 0 {
		return p.plural(p.phrases.Kilometers, tenths/10)
	}

	num := strconv.FormatFloat(float64(tenths)/10, 'f', 1, 64)
	num = strings.Replace(num, ".", p.phrases.DecimalSeparator, 1)
	return strings.ReplaceAll(p.phrases.Kilometers.Fraction, "{n}", num)
}

func (p *Phrasebook) plural(forms pluralForms, n int) string {
	var form string
	switch pluralCategory(p.locale, n) {
	case "one":
		form = forms.One
	case "few":
		form = forms.Few
	default:
		form = forms.Many
	}
	return strings.ReplaceAll(form, "{n}", strconv.Itoa(n))
}

func pluralCategory(locale string, n int) string {
	if locale != "ru" {
		if n == 1 {
			return "one"
		}
		return "many"
	}

	mod10, mod100 := n%10, n%100
	switch {
	case mod10 == 1 && mod100 != 11:
		return "one"
	case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
		return "few"
	default:
		return "many"
	}
}

// Announcement speaks a step: its instruction followed by the step distance.
// A distance that rounds to zero is left out.
func (p *Phrasebook) Announcement(step RouteStep) string {
	instruction := strings.TrimRight(strings.TrimSpace(step.Instruction), ".")
	if math.Round(step.Distance.Meters/50) <= 0 {
		return instruction
	}
	return strings.NewReplacer(
		"{instruction}", instruction,
		"{distance}", p.FormatDistance(step.Distance.Meters),
	).Replace(p.phrases.Announcement)
}

// Proximity speaks the remaining distance for a crossed threshold
func (p *Phrasebook) Proximity(thresholdKm float64) string {
	return strings.ReplaceAll(p.phrases.Proximity, "{distance}", p.FormatDistance(thresholdKm*1000))
}

// Arrived is spoken once on arrival
func (p *Phrasebook) Arrived() string {
	return p.phrases.Arrived
}

// Cancelled is shown when the deal is cancelled mid-trip
func (p *Phrasebook) Cancelled() string {
	return p.phrases.Cancelled
}

// PositionError is shown when the device cannot report a position
func (p *Phrasebook) PositionError() string {
	return p.phrases.PositionError
}
