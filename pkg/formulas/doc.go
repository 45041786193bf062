// Package formulas provides technical indicator and statistics helpers over
// price series. Inputs are ordered oldest first. Functions returning a single
// value return nil when the series is too short for the indicator.
package formulas
