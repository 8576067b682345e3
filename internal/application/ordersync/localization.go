package ordersync

import (
	"embed"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var tableFS embed.FS

// DefaultLocale is used for branches without a dedicated locale
const DefaultLocale = "en"

// LocaleForBranch maps a branch code to the locale used for display strings
// and outgoing messages.
func LocaleForBranch(branch string) string {
	switch strings.ToLower(strings.TrimSpace(branch)) {
	case "il":
		return "he"
	case "se":
		return "sv"
	case "de", "at":
		return "de"
	case "fr":
		return "fr"
	case "es":
		return "es"
	case "it":
		return "it"
	case "ru":
		return "ru"
	case "gb", "uk", "us":
		return "en"
	default:
		return DefaultLocale
	}
}

// countryEntry is a row of countries.yaml
type countryEntry struct {
	ProcessingDays int               `yaml:"processing_days"`
	Names          map[string]string `yaml:"names"`
}

type countryTable struct {
	DefaultProcessingDays int                     `yaml:"default_processing_days"`
	Countries             map[string]countryEntry `yaml:"countries"`
}

type visaTable struct {
	Intents        map[string]map[string]string `yaml:"intents"`
	Entries        map[string]map[string]string `yaml:"entries"`
	ProcessingDays map[string]map[string]string `yaml:"processing_days"`
}

// LookupTables are the immutable translation tables. They are loaded once
// and only read afterwards.
type LookupTables struct {
	countries countryTable
	visas     visaTable
}

// defaultTables is shared by every mapper in the process
var defaultTables = mustLoadTables()

// DefaultLookupTables returns the process-wide tables
func DefaultLookupTables() *LookupTables {
	return defaultTables
}

func mustLoadTables() *LookupTables {
	t, err := LoadLookupTables()
	if err != nil {
		panic(err)
	}
	return t
}

// LoadLookupTables parses the embedded YAML tables
func LoadLookupTables() (*LookupTables, error) {
	t := &LookupTables{}
	if err := decodeTable("tables/countries.yaml", &t.countries); err != nil {
		return nil, err
	}
	if err := decodeTable("tables/visa_types.yaml", &t.visas); err != nil {
		return nil, err
	}
	normalized := make(map[string]countryEntry, len(t.countries.Countries))
	for code, entry := range t.countries.Countries {
		normalized[strings.ToUpper(code)] = entry
	}
	t.countries.Countries = normalized
	if t.countries.DefaultProcessingDays <= 0 {
		t.countries.DefaultProcessingDays = 3
	}
	return t, nil
}

func decodeTable(name string, out any) error {
	data, err := tableFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read lookup table %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse lookup table %s: %w", name, err)
	}
	return nil
}

// IsKnownCountry returns true if the country has a table entry
func (t *LookupTables) IsKnownCountry(code string) bool {
	_, ok := t.countries.Countries[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// CountryFlag returns the flag glyph for a known country, or "" when unknown
func (t *LookupTables) CountryFlag(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !t.IsKnownCountry(code) || len(code) != 2 {
		return ""
	}
	const regionalIndicatorA = 0x1F1E6
	var b strings.Builder
	for _, r := range code {
		b.WriteRune(rune(regionalIndicatorA + (r - 'A')))
	}
	return b.String()
}

// CountryName returns the localized country name. The table name wins, then
// the CLDR display name in the locale, then the raw code.
func (t *LookupTables) CountryName(code, locale string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if entry, ok := t.countries.Countries[code]; ok {
		if name, ok := entry.Names[locale]; ok {
			return name
		}
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if name := display.Regions(localeTag(locale)).Name(region); name != "" {
		return name
	}
	return code
}

// CountryProcessingDays returns the standard estimate for the country
func (t *LookupTables) CountryProcessingDays(code string) int {
	if entry, ok := t.countries.Countries[strings.ToUpper(strings.TrimSpace(code))]; ok && entry.ProcessingDays > 0 {
		return entry.ProcessingDays
	}
	return t.countries.DefaultProcessingDays
}

// VisaTypeName returns the localized visa type, e.g. "Tourist visa - Single entry"
func (t *LookupTables) VisaTypeName(intent, entries, locale string) string {
	names, ok := t.visas.Intents[strings.ToLower(strings.TrimSpace(intent))]
	if !ok {
		names = t.visas.Intents["default"]
	}
	name := pickLocale(names, locale)

	if entryNames, ok := t.visas.Entries[strings.ToLower(strings.TrimSpace(entries))]; ok {
		name = name + " - " + pickLocale(entryNames, locale)
	}
	return name
}

// ProcessingDaysText renders the processing estimate with the plural form
// of the locale.
func (t *LookupTables) ProcessingDaysText(days int, locale string) string {
	forms, ok := t.visas.ProcessingDays[locale]
	if !ok {
		forms = t.visas.ProcessingDays[DefaultLocale]
	}

	form := pluralFormName(plural.Cardinal.MatchPlural(localeTag(locale), days, 0, 0, 0, 0))
	tmpl, ok := forms[form]
	if !ok {
		tmpl = forms["other"]
	}
	return strings.ReplaceAll(tmpl, "{n}", strconv.Itoa(days))
}

func pickLocale(names map[string]string, locale string) string {
	if name, ok := names[locale]; ok {
		return name
	}
	return names[DefaultLocale]
}

func localeTag(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	return tag
}

func pluralFormName(f plural.Form) string {
	switch f {
	case plural.Zero:
		return "zero"
	case plural.One:
		return "one"
	case plural.Two:
		return "two"
	case plural.Few:
		return "few"
	case plural.Many:
		return "many"
	default:
		return "other"
	}
}
