// Package store persists chat messages and replays conversations between two
// users in creation order. Two backends are provided: BadgerDB for a single
// embedded node and SQLite through GORM.
package store
