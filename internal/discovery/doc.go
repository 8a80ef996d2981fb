// Package discovery turns a radio scan into confirmed, configured desks.
//
// Scanner collects advertising devices for a bounded window. Validator
// connects to each candidate and checks its GATT table against the variant
// registry. Finder chains the two.
package discovery
