// Package validation provides common validation utilities for configuration
// parameters across the datatide library.
//
// Struct validates option structs through their `validate` tags and reports
// the first failing field as a ValidationError. The Validate* helpers cover
// single values checked by constructors.
package validation
