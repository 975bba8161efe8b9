// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on /debug/vars by the serve command.
package metrics

import "expvar"

// Operation counters.
var (
	RememberTotal  = expvar.NewInt("brain_remember_total")
	SearchTotal    = expvar.NewInt("brain_search_total")
	ContextTotal   = expvar.NewInt("brain_context_total")
	ForgetTotal    = expvar.NewInt("brain_forget_total")
	PushTotal      = expvar.NewInt("brain_push_total")
	PushFailed     = expvar.NewInt("brain_push_failed_total")
	PullTotal      = expvar.NewInt("brain_pull_total")
	ConflictsTotal = expvar.NewInt("brain_conflicts_total")
	DecayedTotal   = expvar.NewInt("brain_decayed_total")
	MergedTotal    = expvar.NewInt("brain_merged_total")
	EntitiesLinked = expvar.NewInt("brain_entities_linked_total")
	EmbedCacheHits = expvar.NewInt("brain_embed_cache_hits_total")
	NotifyFailed   = expvar.NewInt("brain_notify_failed_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }

// Add increments the given counter by n.
func Add(counter *expvar.Int, n int) { counter.Add(int64(n)) }
