//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// vinylauth.UserStore. It supports multi-tenancy through Datastore
// namespaces.
//
// # Datastore Kinds
//
//   - User: one entity per user, keyed by its numeric id
//   - Username: reservation keyed by username, enforces uniqueness
//   - Email: reservation keyed by lower-cased email, enforces uniqueness
//
// Reservations are written in the same transaction as the user, so two
// signups racing for one username cannot both succeed. Lookups by
// verification or reset token are property queries and therefore
// eventually consistent.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	users := gae.NewUserStore(client, "")  // default namespace
package gae
