// Package containers starts the external services used by integration
// tests: MySQL for the repositories, Mosquitto for the sensor feed and ntfy
// as a web push target.
//
// Every file carries the integration build tag, so Docker is only needed
// when running
//
//	go test -tags=integration ./...
//
// Each constructor registers termination with t.Cleanup.
package containers
