package model

import "time"

type CollectionKind string

const (
	KindGallery    CollectionKind = "gallery"
	KindSchedule   CollectionKind = "schedule"
	KindNews       CollectionKind = "news"
	KindCommittees CollectionKind = "committees"
	KindSponsors   CollectionKind = "sponsors"
)

// DefaultCollections are created by `confsite init` and on first open of an empty store.
var DefaultCollections = []Collection{
	{ID: "gallery", Kind: KindGallery, Title: "Gallery"},
	{ID: "schedule", Kind: KindSchedule, Title: "Schedule"},
	{ID: "news", Kind: KindNews, Title: "News"},
	{ID: "committees", Kind: KindCommittees, Title: "Committees"},
	{ID: "sponsors", Kind: KindSponsors, Title: "Sponsors"},
}

type Collection struct {
	ID        string         `json:"id"`
	Kind      CollectionKind `json:"kind"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Layout carries rendering hints for the public site.
type Layout struct {
	Span     int  `json:"span,omitempty"` // 1..3 grid columns
	Featured bool `json:"featured,omitempty"`
}

type Item struct {
	ID           string `json:"id"`
	CollectionID string `json:"collectionId"`

	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Body     string `json:"body,omitempty"` // markdown
	MediaRef string `json:"media,omitempty"`
	Link     string `json:"link,omitempty"`
	Layout   Layout `json:"layout"`

	// Schedule entries.
	Starts   *time.Time `json:"starts,omitempty"`
	Ends     *time.Time `json:"ends,omitempty"`
	Location string     `json:"location,omitempty"`
	Speaker  string     `json:"speaker,omitempty"`

	// Committee members are grouped under a committee name.
	Group string `json:"group,omitempty"`

	Position float64 `json:"position"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Placement is the subset of an item sent in a write-batch.
type Placement struct {
	ID       string  `json:"id"`
	Position float64 `json:"position"`
}

// Placements returns the {id, position} pairs of items in slice order.
func Placements(items []Item) []Placement {
	out := make([]Placement, 0, len(items))
	for _, it := range items {
		out = append(out, Placement{ID: it.ID, Position: it.Position})
	}
	return out
}

type TicketType string

const (
	TicketRegular TicketType = "regular"
	TicketStudent TicketType = "student"
	TicketSpeaker TicketType = "speaker"
)

type Registration struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Affiliation string     `json:"affiliation,omitempty"`
	Ticket      TicketType `json:"ticket"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type Admin struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Event struct {
	ID       string    `json:"id"`
	TS       time.Time `json:"ts"`
	ActorID  string    `json:"actorId"`
	Type     string    `json:"type"`
	EntityID string    `json:"entityId"`
	Payload  any       `json:"payload"`
}
