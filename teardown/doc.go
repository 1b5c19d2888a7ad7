// Package teardown ties a reference slot to the lifecycle of a distributed
// test.
//
// A Rule lives in every process taking part in the test: the controller
// that drives it and each worker it spawned. New registers the slot's
// teardown routine on the process's invoke.Host under the rule's name, so
// that when the controller calls After, the invoker can ask every worker to
// run the routine of the same name against its own slot:
//
//	// in every process
//	rule, _ := teardown.New[*sql.DB](teardown.Config{Host: host})
//
//	// in the controller only
//	rule, _ := teardown.New[*sql.DB](teardown.Config{Host: host, Invoker: inv})
//	rule.Apply(t)
//	rule.Set(db)
//
// Values stay in the process that set them; only the routine name travels.
// After returns every worker's failure joined, each tagged with the worker
// it happened in.
package teardown
