// Package viz renders simulation results in the terminal.
//
//   - [Chart]: line chart of one or more trajectory series (asciigraph)
//   - [PhasePortrait]: one series against another on a Braille [Canvas]
//   - [Sparkline], [KeyValues]: compact summaries styled with lipgloss
//
// Every renderer returns a string; nothing writes to the terminal directly.
package viz
