package api

// ResponseError is the error payload envelope used by every endpoint.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// CreateSessionRequest opens a new decoding session.
type CreateSessionRequest struct {
	Preset string `json:"preset,omitempty"`
	Layers int    `json:"layers"`
}

// SessionResponse describes a live session.
type SessionResponse struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Preset string `json:"preset"`
	Layers int    `json:"layers"`
	Offset int    `json:"offset"`
}

// RollbackRequest trims timesteps from every layer of a session.
type RollbackRequest struct {
	Steps int `json:"steps"`
}

// RollbackResponse reports how many timesteps were actually removed.
type RollbackResponse struct {
	ID      string `json:"id"`
	Trimmed int    `json:"trimmed"`
	Offset  int    `json:"offset"`
}

// QuantizeRequest converts a plain session to quantized storage in place.
type QuantizeRequest struct {
	GroupSize int `json:"group_size,omitempty"`
	Bits      int `json:"bits,omitempty"`
}

// DeleteResponse acknowledges a deletion.
type DeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// PresetInfo is one entry of the preset listing.
type PresetInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	GroupSize int    `json:"group_size,omitempty"`
	Bits      int    `json:"bits,omitempty"`
	Step      int    `json:"step,omitempty"`
	Default   bool   `json:"default,omitempty"`
}

// BenchRequest configures a benchmark run.
type BenchRequest struct {
	Preset  string `json:"preset,omitempty"`
	Steps   int    `json:"steps,omitempty"`
	Layers  int    `json:"layers,omitempty"`
	QHeads  int    `json:"q_heads,omitempty"`
	KVHeads int    `json:"kv_heads,omitempty"`
	HeadDim int    `json:"head_dim,omitempty"`
	Seed    int64  `json:"seed,omitempty"`
}
