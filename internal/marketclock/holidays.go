package marketclock

// Built-in NYSE closure calendar used when the configured holidays source is
// absent. The config loader replaces this with the YAML-sourced calendar when
// one is available.

func defaultHolidays() map[string]bool {
	days := []string{
		// 2025
		"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18",
		"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01",
		"2025-11-27", "2025-12-25",
		// 2026
		"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03",
		"2026-05-25", "2026-06-19", "2026-07-03", "2026-09-07",
		"2026-11-26", "2026-12-25",
	}
	m := make(map[string]bool, len(days))
	for _, d := range days {
		m[d] = true
	}
	return m
}

func defaultEarlyCloses() map[string]bool {
	days := []string{
		"2025-07-03", "2025-11-28", "2025-12-24",
		"2026-11-27", "2026-12-24",
	}
	m := make(map[string]bool, len(days))
	for _, d := range days {
		m[d] = true
	}
	return m
}
