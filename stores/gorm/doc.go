//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based vinylauth.UserStore. It supports any
// database GORM supports; Open knows PostgreSQL and SQLite.
//
// # Database Schema
//
// AutoMigrate creates or extends the users table with the auth columns.
// Username, email and both single use tokens carry unique indexes. Email
// and the tokens are nullable, so any number of users may leave them unset.
//
// DeleteUser removes the user's rows from the tables listed in
// UserStore.OwnedTables inside the same transaction. Tables that do not
// exist are skipped.
//
// # Usage
//
//	db, _ := gormstore.Open("postgres", dsn)
//	gormstore.AutoMigrate(db)
//	users := gormstore.NewUserStore(db)
package gorm
