// Package models contains the GORM persistence models of the SQL cache store.
// They are kept apart from the domain types in internal/domain/offline so the
// domain stays free of ORM tags; each model converts with ToDomain and
// <Model>FromDomain.
//
// The tables themselves are created by the embedded golang-migrate migrations,
// not by AutoMigrate.
package models
