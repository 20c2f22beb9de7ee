// Package testutil provides test fixtures and helpers shared across the
// oauth-lifecycle packages: a controllable clock, cached signing keys, codec
// construction, seeded clients and owners, and small assertion helpers.
package testutil
