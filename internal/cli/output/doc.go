// Package output renders cloudlock-cli results.
//
// Responses are printed as a table (the default), JSON or YAML:
//
//   - formatter.go: Formatter interface, format parsing and Print
//   - table.go: reflection based tables with wide-only columns
//   - json.go, yaml.go: machine readable output for scripting
//   - spinner.go: progress animation for long running requests
//
// Column names come from the json tags of the response types, so all
// three formats name fields the same way. A `table:"wide"` tag hides a
// column unless --wide is set, `table:"-"` hides it always and
// `table:"millis"` renders a Unix millisecond timestamp as a time.
package output
