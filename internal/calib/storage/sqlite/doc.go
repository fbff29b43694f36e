// Package sqlite persists calibration runs: the fit settings, the fitted
// coefficient vector and the measurements it was solved from.
//
// The schema is embedded and applied with golang-migrate when a Store is
// opened, so a fresh file is usable immediately.
package sqlite
