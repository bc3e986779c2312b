package domain

import "time"

// DebounceState is the per-conversation coalescing state machine.
type DebounceState string

const (
	DebounceIdle       DebounceState = "idle"
	DebounceWaiting    DebounceState = "waiting"
	DebounceProcessing DebounceState = "processing"
)

// LifecycleStage tracks a Lead through the sales funnel.
type LifecycleStage string

const (
	LifecycleNew             LifecycleStage = "new"
	LifecycleContacted       LifecycleStage = "contacted"
	LifecycleQualified       LifecycleStage = "qualified"
	LifecycleHandoffDone     LifecycleStage = "handoff_done"
	LifecycleFollowUpPending LifecycleStage = "follow_up_pending"
	LifecycleFollowUpSent    LifecycleStage = "follow_up_sent"
	LifecycleProactiveReplied LifecycleStage = "proactive_replied"
	LifecycleClosedLost      LifecycleStage = "closed_lost"
)

// IsTerminal reports whether no further lifecycle transition is expected.
func (s LifecycleStage) IsTerminal() bool {
	return s == LifecycleHandoffDone || s == LifecycleClosedLost
}

// Conversation is the single source of truth for debounce coordination; it
// is only mutated under the per-conversation lock held by the inbound
// handler (append/arm), the dispatch service (processing/clear), and the
// watchdog (recovery).
type Conversation struct {
	ID                string
	CompanyID         string
	LeadID            string
	CenturionID       string
	ChannelType       string
	ChannelInstanceID string
	DebounceState     DebounceState
	DebounceUntil     *time.Time
	PendingMessages   []string
	LastInboundAt     *time.Time
	LastOutboundAt    *time.Time
	LeadState         string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Lead is a prospective customer tracked across channels and conversations.
type Lead struct {
	ID                 string
	CompanyID          string
	Phone              string
	Name               string
	Email              string
	CPF                string
	LifecycleStage      LifecycleStage
	LeadState           string
	IsQualified         bool
	QualificationScore  *float64
	QualificationData   map[string]any
	CenturionID         string
	UTMCampaign         string
	UTMSource           string
	UTMMedium           string
	PixelConfigID       string
	ContactFingerprint  string
	LastContactAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MessageDirection is the origin of a Message relative to the business.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// ContentType enumerates the media kinds a Message or outbound chunk can carry.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentAudio    ContentType = "audio"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
)

// Message is an append-only row except for the delete-on-publish-failure
// compensation and the media-enrichment patch.
type Message struct {
	ID                 string
	ConversationID     string
	CompanyID          string
	LeadID             string
	Direction          MessageDirection
	ContentType        ContentType
	Content            string
	AudioTranscription string
	ImageDescription   string
	ChannelMessageID   string
	Archived           bool
	Metadata           map[string]any
	CreatedAt          time.Time
}

// Fact is a long-term-memory entry deduplicated per lead, stored alongside
// its embedding vector in the vector store.
type Fact struct {
	ID        string
	LeadID    string
	CompanyID string
	Text      string
	Category  string
	Embedding []float32
	CreatedAt time.Time
}
