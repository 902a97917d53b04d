// Package localserver serves the admin API on a Unix domain socket.
//
// The socket is reachable from the node itself only. Its file mode stands
// in for the network allow list and rate limit of the TCP listener, so an
// operator on the host can initialize the cluster key without exposing the
// admin API on a routable address:
//
//	cloudlock-cli --server unix:///run/cloudlock/admin.sock key status
package localserver
