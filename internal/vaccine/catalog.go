package vaccine

import "strings"

// Info holds the dose schedule for one vaccine.
type Info struct {
	Doses   int // required dose count for full vaccination
	GapDays int // minimum days between consecutive doses
}

// Catalog maps a vaccine name to its dose schedule. It is injected into the
// booking service so deployments and tests can swap schedules without code
// changes. Lookups are case-insensitive; names are stored lowercase.
type Catalog map[string]Info

// Lookup returns the schedule for the named vaccine. A vaccine missing from
// the catalog is a hard rejection at booking time, never a fallback.
func (c Catalog) Lookup(name string) (Info, bool) {
	info, ok := c[strings.ToLower(name)]
	return info, ok
}

// FullyVaccinatedStatus is the sentinel written to a citizen's
// vaccination_status once every required dose is taken.
const FullyVaccinatedStatus = -1

// Names of the vaccines centers may offer.
const (
	Covacin    = "covacin"
	Covishield = "covishield"
	Covovax    = "covovax"
	Incovacc   = "incovacc"
)

// DefaultCatalog returns the operational schedule: two doses, sixty days apart,
// for every currently administered vaccine.
func DefaultCatalog() Catalog {
	return Catalog{
		Covacin:    {Doses: 2, GapDays: 60},
		Covishield: {Doses: 2, GapDays: 60},
		Covovax:    {Doses: 2, GapDays: 60},
		Incovacc:   {Doses: 2, GapDays: 60},
	}
}
