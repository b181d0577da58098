// Package dialect defines the database driver abstraction the query and
// relation packages execute against, together with a debug wrapper that
// logs every outgoing operation. The dialect/sql sub-package provides the
// database/sql implementation.
package dialect
