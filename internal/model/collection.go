// Package model defines the collections and record types kept in sync.
package model

import (
	"fmt"
	"strings"
)

// Collection names one logical table of the dataset.
type Collection string

const (
	Accounts     Collection = "Accounts"
	Roster       Collection = "Roster"
	ContentItems Collection = "ContentItems"
	Submissions  Collection = "Submissions"
	Settings     Collection = "Settings"
)

// AllCollections lists every collection in a fixed order. Code that takes
// locks on more than one collection must do so in this order.
var AllCollections = []Collection{Accounts, Roster, ContentItems, Submissions, Settings}

// legacyNames maps the sheet names used by older deployments.
var legacyNames = map[string]Collection{
	"users":     Accounts,
	"students":  Roster,
	"materials": ContentItems,
}

// WireName is the lower-cased name used as the key of a pull payload.
func (c Collection) WireName() string {
	return strings.ToLower(string(c))
}

// Singleton reports whether the collection always holds exactly one record.
func (c Collection) Singleton() bool {
	return c == Settings
}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	for _, known := range AllCollections {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCollection resolves a collection name case-insensitively. Legacy
// sheet names (users, students, materials) are accepted as aliases.
func ParseCollection(s string) (Collection, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCollections {
		if c.WireName() == name {
			return c, nil
		}
	}
	if c, ok := legacyNames[name]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown collection %q", s)
}
