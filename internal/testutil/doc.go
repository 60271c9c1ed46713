// Package testutil contains helper builders and doubles used across tests to
// reduce boilerplate when constructing sessions and scripting planner
// replies. It depends only on core and is not intended for production usage.
package testutil
