// Package shared groups helpers used across factorpanel packages.
//
// The testutil subpackage provides a buffered slog handler for asserting
// on log output and small CSV fixture writers for loader and panel tests.
package shared
