package calendar

// fixedHolidays are the month-day public holidays that close the exchange
// every year. Dec 31 is a KRX closing day, not a public holiday.
var fixedHolidays = map[string]struct{}{
	"01-01": {}, // New Year
	"03-01": {}, // Independence Movement Day
	"05-05": {}, // Children's Day
	"06-06": {}, // Memorial Day
	"08-15": {}, // Liberation Day
	"10-03": {}, // National Foundation Day
	"10-09": {}, // Hangul Day
	"12-25": {}, // Christmas
	"12-31": {}, // year-end market close
}

// builtinHolidays covers the lunar-calendar holidays and substitutes, which
// move every year. Extend future years via the YAML override file instead of
// editing this table.
var builtinHolidays = []string{
	// 2025
	"2025-01-28", "2025-01-29", "2025-01-30", // Seollal
	"2025-05-05",                             // Buddha's Birthday
	"2025-10-05", "2025-10-06", "2025-10-07", // Chuseok
	// 2026
	"2026-01-28", "2026-01-29", "2026-01-30", // Seollal
	"2026-02-17",                             // Seollal substitute
	"2026-05-24",                             // Buddha's Birthday
	"2026-10-04", "2026-10-05", "2026-10-06", // Chuseok
}
