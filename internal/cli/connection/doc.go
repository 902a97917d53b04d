// Package connection talks to the cloudlock-server admin API.
//
// HTTPClient sends JSON requests over HTTP or HTTPS. A custom CA bundle
// verifies servers whose certificates are not signed by a system root.
// Error documents of the API are decoded into *APIError so commands can
// branch on the error code.
package connection
