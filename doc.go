// Package dictgo provides a transparent zstd dictionary-compression layer for
// key-value caches.
//
// Values handed to Encode are stored either raw or as a zstd frame prefixed
// with a two-byte dictionary id; Decode reverses the mapping using the id.
// Dictionaries are trained in the background from a reservoir of sampled
// values, persisted as <uuid>.dict / <uuid>.mf pairs in one directory, and
// routed per key-prefix namespace through an immutable table published with a
// single atomic pointer swap. Retired tables and dictionary files are
// reclaimed by a garbage collector after a cool-off and quarantine period.
//
// # Quick Start
//
//	cfg := dictgo.DefaultConfig()
//	cfg.DictDir = "/var/lib/cache/dicts"
//
//	engine, err := dictgo.New(cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer engine.Close()
//
//	stored, _ := engine.Encode("user:42", value) // what goes into the cache
//	value, _ = engine.Decode("user:42", stored)  // what comes back out
//
// A node's role decides its background work: masters run the trainer, which
// builds new dictionaries when the compression ratio drifts; replicas only
// encode and decode. Per-namespace statistics are available through Stats.
package dictgo
