// Package kvdb is the record-level client of a multi-node entity store.
//
// A record (table, key) with named fields is never stored as one object.
// Each field becomes its own entity, addressed "table+key|field", and every
// operation fans out one HTTP sub-request per field:
//
//	Read    GET    per field,  replicas=1/1, all must return 200
//	Insert  PUT    per field,  replicas=2/3, all must return 201
//	Update  Read of the same fields, then Insert only if the read was OK
//	Delete  DELETE "table+key*", replicas=2/3, must return 202
//	Scan    unsupported
//
// Remote failures never surface as Go errors. They reduce the number of
// acknowledgements and show up as StatusNotFound (reads) or StatusError
// (writes and deletes).
//
// Example:
//
//	cfg := config.Default()
//	db, err := kvdb.New(cfg, kvdb.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	db.Init()
//	status := db.Insert(ctx, "usertable", "user1", map[string][]byte{
//		"field0": []byte("v0"),
//	})
package kvdb
