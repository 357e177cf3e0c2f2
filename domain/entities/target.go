package entities

// Target is what an action seeks. Created from a step; immutable.
type Target struct {
	Label      string     `json:"label"`
	Normalized string     `json:"normalized"`
	Index      *int       `json:"index,omitempty"`
	Kind       ActionKind `json:"kind"`
	Value      string     `json:"value,omitempty"`
}

// TargetSpec is a raw step as handed over by a playbook runner or the terminal
type TargetSpec struct {
	Kind      ActionKind `json:"action" yaml:"action"`
	Label     string     `json:"target" yaml:"target"`
	Value     string     `json:"value,omitempty" yaml:"value,omitempty"`
	Index     *int       `json:"index,omitempty" yaml:"index,omitempty"`
	Region    *Rect      `json:"region,omitempty" yaml:"region,omitempty"`
	Confirmed bool       `json:"confirmed,omitempty" yaml:"confirmed,omitempty"`
}
