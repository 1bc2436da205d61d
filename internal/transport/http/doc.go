// Package http contains the chi HTTP handlers for the v2 license API.
// Handlers bind and validate request DTOs, delegate to the services layer
// and render either a data envelope or an RFC 7807 problem.
package http
