// Package handler provides the HTTP handlers of the cloudlock admin API.
//
// Endpoints:
//
//   - POST /_cloudlock/api/_initialize_key: establish and distribute the cluster key
//   - GET /_cloudlock/api/_encrypted_indices: encryption status of all indices
//   - GET /_cloudlock/api/_key_status: key state of this node
//   - PUT /indices/{name}, GET /indices/{name}, GET /indices: index registry
//   - PUT, GET and DELETE /indices/{name}/_doc/{id}: documents
//   - PUT and GET /indices/{name}/_snapshot: create and list snapshots
//   - GET and DELETE /indices/{name}/_snapshot/{id}: inspect (?verify=true) and delete
//   - POST /indices/{name}/_snapshot/{id}/_restore: restore into a new index
//   - GET /health, GET /ready
//
// Failures are written as {"code", "message", "request_id"} with the HTTP
// status taken from the error code.
package handler
