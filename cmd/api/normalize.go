package main

import (
	"strings"

	"presensi/internal/ledger"
)

// statusAliases maps the status spellings seen across school clients onto
// the canonical enumeration. The mapping lives here at the HTTP boundary;
// the engine itself only ever sees canonical values.
var statusAliases = map[string]ledger.Status{
	"hadir":       ledger.StatusPresent,
	"telat":       ledger.StatusLate,
	"terlambat":   ledger.StatusLate,
	"sakit":       ledger.StatusSick,
	"izin":        ledger.StatusExcused,
	"dispen":      ledger.StatusExcused,
	"dinas":       ledger.StatusExcused,
	"alpha":       ledger.StatusAbsent,
	"alpa":        ledger.StatusAbsent,
	"pulang_awal": ledger.StatusEarlyDeparture,
}

// normalizeStatus resolves aliases and falls through to the raw value, which
// the engine rejects if it is not canonical.
func normalizeStatus(raw string) ledger.Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := statusAliases[s]; ok {
		return canonical
	}
	return ledger.Status(s)
}
