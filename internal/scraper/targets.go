package scraper

// Target is one named catalog query the Scraper issues on every fast tick
// (Frequent) or only on the slower cadence (Frequent == false).
type Target struct {
	Name     string
	Query    string
	Frequent bool
}

// Targets is the fixed set of catalog snapshots taken on the slow cadence,
// alongside the settings snapshot taken on every fast tick.
var Targets = []Target{
	{
		Name:     "pg_stats",
		Query:    "SELECT EXTRACT(epoch from NOW())*1000000 as time, pg_stats.* FROM pg_stats WHERE schemaname = 'public';",
		Frequent: false,
	},
	{
		Name:     "pg_class",
		Query:    "SELECT EXTRACT(epoch from NOW())*1000000 as time, * FROM pg_class t JOIN pg_namespace n ON n.oid = t.relnamespace WHERE n.nspname = 'public';",
		Frequent: false,
	},
	{
		Name:     "pg_index",
		Query:    "SELECT EXTRACT(epoch from NOW())*1000000 as time, * FROM pg_index;",
		Frequent: false,
	},
	{
		Name:     "pg_attribute",
		Query:    "SELECT EXTRACT(epoch from NOW())*1000000 as time, * FROM pg_attribute;",
		Frequent: false,
	},
}
