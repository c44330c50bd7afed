// Package repository holds the pgx-backed implementations of the store
// interfaces the service layer consumes, one repository per aggregate, plus
// an in-memory set with the same contracts for tests and local development.
package repository
