package ordersync

import (
	"strconv"
	"strings"
	"time"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"go.uber.org/zap"
)

// Defaults applied when an order field is absent
const (
	DefaultValidity     = "30 days"
	DefaultUrgencyLabel = "standard"
	DefaultQuantity     = 1
	UrgentProcessingDay = 1
)

// Custom field keys on the external contact
const (
	FieldOrderID            = "order_id"
	FieldBranch             = "branch"
	FieldCountry            = "country"
	FieldCountryName        = "country_name"
	FieldCountryFlag        = "country_flag"
	FieldVisaType           = "visa_type"
	FieldVisaIntent         = "visa_intent"
	FieldEntries            = "entries"
	FieldValidity           = "validity"
	FieldUrgency            = "urgency"
	FieldIsUrgent           = "is_urgent"
	FieldProcessingDays     = "processing_days"
	FieldProcessingDaysText = "processing_days_text"
	FieldQuantity           = "quantity"
	FieldAmount             = "amount"
	FieldCurrency           = "currency"
	FieldArrivalDate        = "arrival_date"
)

var urgentLabels = map[string]struct{}{
	"urgent":  {},
	"express": {},
	"rush":    {},
	"true":    {},
	"yes":     {},
	"1":       {},
}

var arrivalDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02.01.2006",
}

// FieldMapper converts orders into contact attributes and display strings.
// Output depends only on the order and the lookup tables; the logger is used
// for warnings about unparseable input.
type FieldMapper struct {
	tables *LookupTables
	logger *zap.Logger
}

// NewFieldMapper creates a mapper over the process-wide lookup tables
func NewFieldMapper(logger *zap.Logger) *FieldMapper {
	return NewFieldMapperWithTables(DefaultLookupTables(), logger)
}

// NewFieldMapperWithTables creates a mapper over the given tables
func NewFieldMapperWithTables(tables *LookupTables, logger *zap.Logger) *FieldMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FieldMapper{tables: tables, logger: logger}
}

// MapOrderToContact builds the contact payload for an order
func (m *FieldMapper) MapOrderToContact(order *ordersync.Order) ordersync.ContactPayload {
	locale := LocaleForBranch(order.BranchCode)
	localized := m.MapOrderToLocalizedStrings(order)
	urgent := IsUrgent(order.Urgency)

	fields := map[string]string{
		FieldOrderID:            order.OrderID,
		FieldBranch:             strings.ToLower(strings.TrimSpace(order.BranchCode)),
		FieldCountry:            strings.ToUpper(strings.TrimSpace(order.Product.Country)),
		FieldCountryName:        localized.CountryName,
		FieldVisaType:           localized.VisaType,
		FieldVisaIntent:         strings.ToLower(strings.TrimSpace(order.Product.Intent)),
		FieldEntries:            strings.ToLower(strings.TrimSpace(order.Product.Entries)),
		FieldValidity:           NormalizeValidity(order.Product.Validity),
		FieldUrgency:            UrgencyLabel(order.Urgency),
		FieldIsUrgent:           strconv.FormatBool(urgent),
		FieldProcessingDays:     strconv.Itoa(m.ProcessingDays(order)),
		FieldProcessingDaysText: localized.ProcessingDaysText,
		FieldQuantity:           strconv.Itoa(Quantity(order)),
		FieldAmount:             order.Amount.StringFixed(2),
		FieldCurrency:           strings.ToUpper(strings.TrimSpace(order.Currency)),
	}
	if flag := m.tables.CountryFlag(order.Product.Country); flag != "" {
		fields[FieldCountryFlag] = flag
	}
	if arrival := m.parseArrivalDate(order); arrival != nil {
		fields[FieldArrivalDate] = arrival.Format("2006-01-02")
	}

	return ordersync.ContactPayload{
		FirstName:    strings.TrimSpace(order.Client.FirstName),
		LastName:     strings.TrimSpace(order.Client.LastName),
		Email:        strings.ToLower(strings.TrimSpace(order.Client.Email)),
		Phone:        ordersync.NormalizePhone(order.Client.Phone),
		Language:     locale,
		CustomFields: fields,
	}
}

// MapOrderToLocalizedStrings derives the display strings for an order in the
// locale of its branch
func (m *FieldMapper) MapOrderToLocalizedStrings(order *ordersync.Order) ordersync.LocalizedStrings {
	locale := LocaleForBranch(order.BranchCode)
	return ordersync.LocalizedStrings{
		CountryName:        m.tables.CountryName(order.Product.Country, locale),
		VisaType:           m.tables.VisaTypeName(order.Product.Intent, order.Product.Entries, locale),
		ProcessingDaysText: m.tables.ProcessingDaysText(m.ProcessingDays(order), locale),
	}
}

// ProcessingDays is 1 for urgent orders, else the order's own estimate, else
// the country constant
func (m *FieldMapper) ProcessingDays(order *ordersync.Order) int {
	if IsUrgent(order.Urgency) {
		return UrgentProcessingDay
	}
	if order.Product.ProcessingDays > 0 {
		return order.Product.ProcessingDays
	}
	return m.tables.CountryProcessingDays(order.Product.Country)
}

// parseArrivalDate returns nil for empty or unparseable dates
func (m *FieldMapper) parseArrivalDate(order *ordersync.Order) *time.Time {
	raw := strings.TrimSpace(order.ArrivalDate)
	if raw == "" {
		return nil
	}
	for _, layout := range arrivalDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	m.logger.Warn("unparseable arrival date, leaving it unset",
		zap.String("order_id", order.OrderID),
		zap.String("arrival_date", raw),
	)
	return nil
}

// IsUrgent normalizes the free-text urgency label
func IsUrgent(label string) bool {
	_, ok := urgentLabels[strings.ToLower(strings.TrimSpace(label))]
	return ok
}

// UrgencyLabel returns the lower-cased label, or "standard" when absent
func UrgencyLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return DefaultUrgencyLabel
	}
	return label
}

// Quantity never returns less than 1
func Quantity(order *ordersync.Order) int {
	if order.Product.Quantity < 1 {
		return DefaultQuantity
	}
	return order.Product.Quantity
}

// NormalizeValidity converts validity labels into display text. Unknown
// labels resolve to "30 days".
func NormalizeValidity(validity string) string {
	v := strings.ToLower(strings.TrimSpace(validity))
	v = strings.ReplaceAll(v, " ", "")

	switch v {
	case "month", "1month":
		return "1 month"
	case "year", "1year":
		return "1 year"
	}

	n, unit := splitNumberUnit(v)
	if n <= 0 {
		return DefaultValidity
	}
	switch unit {
	case "", "d", "day", "days":
		return pluralize(n, "day")
	case "m", "month", "months":
		return pluralize(n, "month")
	case "y", "year", "years":
		return pluralize(n, "year")
	default:
		return DefaultValidity
	}
}

func splitNumberUnit(v string) (int, string) {
	i := 0
	for i < len(v) && v[i] >= '0' && v[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, v
	}
	n, err := strconv.Atoi(v[:i])
	if err != nil {
		return 0, v
	}
	return n, v[i:]
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
