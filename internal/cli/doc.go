// Package cli implements pdmsim, the offline companion of the service:
// layout validation, simulation on the simulated board with virtual time,
// and API token minting.
//
// Every command writes through an OutputFormatter so scripts can ask for
// --format json and get one JSON document on stdout.
package cli
