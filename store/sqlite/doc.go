// Package sqlite implements store.Store using the grove ORM with the SQLite
// dialect. Suitable for single-host deployments where several worker
// processes share one database file.
//
// SQLite serializes writers, so each claim is a single
// UPDATE … WHERE id = (SELECT … LIMIT 1) AND status = 'pending' RETURNING
// statement. The busy timeout decides how long a writer waits for the lock.
//
//	s, err := sqlite.Open(ctx, "/var/lib/mediaflow/jobs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	s.Migrate(ctx)
//
// A caller that already holds a *grove.DB opened with the sqlite driver
// passes it to New instead and keeps ownership of it.
package sqlite
