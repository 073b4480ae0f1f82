// Package logbook owns the daily allocation log: its in-memory snapshot, its
// durable SQLite mirror, and the transaction types applied against it.
package logbook

// Details are the attributes of one allocation: which unit-set a service ran
// with, reported by whom. Index orders unit-sets sharing a service id;
// Withdrawn marks a superseded allocation without deleting its record.
type Details struct {
	Sources   string
	Notes     string
	Index     *int
	Withdrawn bool
}

// EffectiveIndex returns the display-ordering index, defaulting absent to 0.
func (d Details) EffectiveIndex() int {
	if d.Index == nil {
		return 0
	}
	return *d.Index
}

// Equal reports whether two Details are attribute-for-attribute identical.
func (d Details) Equal(o Details) bool {
	if d.Sources != o.Sources || d.Notes != o.Notes || d.Withdrawn != o.Withdrawn {
		return false
	}
	if (d.Index == nil) != (o.Index == nil) {
		return false
	}
	return d.Index == nil || *d.Index == *o.Index
}

func (d Details) clone() Details {
	c := d
	if d.Index != nil {
		idx := *d.Index
		c.Index = &idx
	}
	return c
}

// DailyLog maps service id -> unit-set id -> Details. A service id present as
// a key always has at least one unit-set entry.
type DailyLog map[string]map[string]Details

// Clone returns a deep copy; mutating it never affects the original.
func (l DailyLog) Clone() DailyLog {
	c := make(DailyLog, len(l))
	for service, sets := range l {
		cs := make(map[string]Details, len(sets))
		for units, d := range sets {
			cs[units] = d.clone()
		}
		c[service] = cs
	}
	return c
}

// Lookup returns the details at (service, units), if present.
func (l DailyLog) Lookup(service, units string) (Details, bool) {
	d, ok := l[service][units]
	return d, ok
}

// TxKind discriminates the two transaction kinds.
type TxKind string

const (
	TxAdd    TxKind = "add"
	TxRemove TxKind = "remove"
)

// Transaction is one upsert or retract against the log. Details is meaningful
// only for TxAdd.
type Transaction struct {
	Kind    TxKind
	Service string
	Units   string
	Details Details
}

// Add builds an upsert transaction.
func Add(service, units string, details Details) Transaction {
	return Transaction{Kind: TxAdd, Service: service, Units: units, Details: details}
}

// Remove builds a retract transaction.
func Remove(service, units string) Transaction {
	return Transaction{Kind: TxRemove, Service: service, Units: units}
}

// Batch is an ordered list of transactions applied together. Later
// transactions win on the same key.
type Batch []Transaction

// Apply mutates log in place with the batch's effect. Removing the last
// unit-set of a service removes the service key entirely.
func (l DailyLog) Apply(batch Batch) {
	for _, tx := range batch {
		switch tx.Kind {
		case TxAdd:
			sets := l[tx.Service]
			if sets == nil {
				sets = make(map[string]Details)
				l[tx.Service] = sets
			}
			sets[tx.Units] = tx.Details.clone()
		case TxRemove:
			sets := l[tx.Service]
			if _, ok := sets[tx.Units]; !ok {
				continue
			}
			delete(sets, tx.Units)
			if len(sets) == 0 {
				delete(l, tx.Service)
			}
		}
	}
}
