package domain

// Conditions are volatile host booleans that gate mutation of entities.
type Conditions struct {
	InCombat   bool `json:"inCombat"`
	Performing bool `json:"performing"`
	Zoning     bool `json:"zoning"`
	InCutscene bool `json:"inCutscene"`
	InGpose    bool `json:"inGpose"`
}

// Unsafe reports whether entity mutation must be deferred.
func (c Conditions) Unsafe() bool {
	return c.InCombat || c.Performing || c.InCutscene || c.InGpose
}

// CombatOrPerforming is the condition whose edges cancel in-flight work.
func (c Conditions) CombatOrPerforming() bool {
	return c.InCombat || c.Performing
}

// ObjectRef is a handle to a live host object.
type ObjectRef struct {
	Kind    ObjectKind `json:"kind"`
	Address uint64     `json:"address"`
	Index   int        `json:"index"`
	Name    string     `json:"name,omitempty"`
}

// Valid reports whether the handle points at a materialized object.
func (o ObjectRef) Valid() bool {
	return o.Address != 0
}
