package domain

// Centurion is the per-tenant agent configuration: persona prompt, tool set,
// qualification rules, and the debounce/chunking knobs that tune C7/C8/C10.
type Centurion struct {
	ID                 string
	CompanyID          string
	Name               string
	Persona            string
	Model              string
	DebounceWaitMs     int
	ChunkMaxChars      int
	ChunkingEnabled    bool
	AllowMediaDownload bool
	QualificationRules map[string]any
	IsActive           bool
}

// ChannelInstance binds a channel_instance_id to its channel type for a
// company, resolved by the inbound handler before routing through C5.
type ChannelInstance struct {
	ID          string
	CompanyID   string
	ChannelType string
	CenturionID string
}
