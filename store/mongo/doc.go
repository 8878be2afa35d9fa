// Package mongo implements store.Store on MongoDB through the grove ORM
// mongo driver.
//
// Claims use FindOneAndUpdate with a status filter and a
// (created_at, _id) sort, which the server applies atomically per document.
// A unique index with a partial filter over pending and in_progress jobs
// enforces one active job per (subject_id, job_type); it needs MongoDB 6.0
// or newer for the $in partial filter.
//
//	s, _ := mongostore.Connect(ctx, uri, "mediaflow")
//	defer s.Close()
//	s.Migrate(ctx)
//
// New wraps a *grove.DB opened elsewhere; the caller keeps ownership of it.
package mongo
