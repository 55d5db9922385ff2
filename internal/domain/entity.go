package domain

import "strconv"

type EntityKind int

const (
	EntityUnknown EntityKind = iota
	EntityIndividual
	EntityGroup
	EntityChannel
)

// Entity is a chat participant or chat resolved at the session boundary.
// Individual uses FirstName/LastName; Group and Channel use Title.
type Entity struct {
	Kind      EntityKind
	ID        int64
	FirstName string
	LastName  string
	Title     string
}

func Individual(id int64, first, last string) Entity {
	return Entity{Kind: EntityIndividual, ID: id, FirstName: first, LastName: last}
}

func Group(id int64, title string) Entity {
	return Entity{Kind: EntityGroup, ID: id, Title: title}
}

func Channel(id int64, title string) Entity {
	return Entity{Kind: EntityChannel, ID: id, Title: title}
}

// name returns the display name and whether the entity was resolved.
func (e Entity) name() (string, bool) {
	switch e.Kind {
	case EntityIndividual:
		name := e.FirstName
		if name == "" {
			name = "Unknown"
		}
		if e.LastName != "" {
			name += " " + e.LastName
		}
		return name, true
	case EntityGroup, EntityChannel:
		return e.Title, true
	case EntityUnknown:
		return "", false
	}
	return "", false
}

// SenderName resolves a message author, falling back to "User <id>".
func SenderName(e Entity, senderID int64) string {
	if name, ok := e.name(); ok {
		return name
	}
	return "User " + strconv.FormatInt(senderID, 10)
}

// ChatName resolves a chat title, falling back to "Unknown".
func ChatName(e Entity) string {
	if name, ok := e.name(); ok {
		return name
	}
	return "Unknown"
}
