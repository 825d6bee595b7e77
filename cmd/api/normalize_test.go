package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"presensi/internal/ledger"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]ledger.Status{
		"hadir":           ledger.StatusPresent,
		"present":         ledger.StatusPresent,
		"telat":           ledger.StatusLate,
		"Terlambat":       ledger.StatusLate,
		"sakit":           ledger.StatusSick,
		"izin":            ledger.StatusExcused,
		"dispen":          ledger.StatusExcused,
		"dinas":           ledger.StatusExcused,
		"alpha":           ledger.StatusAbsent,
		"ALPA":            ledger.StatusAbsent,
		" pulang_awal ":   ledger.StatusEarlyDeparture,
		"early_departure": ledger.StatusEarlyDeparture,
	}
	for raw, want := range cases {
		assert.Equal(t, want, normalizeStatus(raw), raw)
	}
}

func TestNormalizeStatusPassesUnknownsThrough(t *testing.T) {
	got := normalizeStatus("vacation")
	assert.Equal(t, ledger.Status("vacation"), got)
	assert.False(t, got.Valid(), "engine rejects it downstream")
}
