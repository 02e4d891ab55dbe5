// Package filterexpr parses and evaluates the backend filter grammar so the
// in-memory backend and the sandbox server can answer list queries the same
// way the real backend does.
//
// Supported: comparisons with = != > >= < <= ~ !~, the connectives && and ||,
// parentheses, quoted strings with backslash escapes, numbers, true, false and
// null. "~" is a case-insensitive contains; a '%' in its right operand turns it
// into a wildcard pattern.
package filterexpr
