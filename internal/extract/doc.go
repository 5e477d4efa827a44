// Package extract turns Bangumi HTML pages into transient records.
//
// Every parser is tolerant: missing nodes produce nil fields or empty slices
// rather than errors, and each field is read through an ordered list of
// selector strategies so that markup drift on one layout falls through to the
// next. Parsers never touch the network or the database.
package extract
