package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// KeyKind selects how an entity is addressed on the remote API.
type KeyKind string

// Supported addressing schemes.
const (
	KindAppID   KeyKind = "app_id"
	KindPackage KeyKind = "pkg_name"
)

// EntityKey references an entity either by canonical app id or by package name.
type EntityKey struct {
	Kind  KeyKind `json:"kind"`
	Value string  `json:"value"`
}

// AppID builds a key addressing an entity by canonical identifier.
func AppID(id string) EntityKey {
	return EntityKey{Kind: KindAppID, Value: id}
}

// Package builds a key addressing an entity by package name.
func Package(name string) EntityKey {
	return EntityKey{Kind: KindPackage, Value: name}
}

// ParseKey classifies a raw string. Canonical identifiers are a capital C
// followed only by digits; everything else is treated as a package name.
func ParseKey(raw string) EntityKey {
	raw = strings.TrimSpace(raw)
	if isAppID(raw) {
		return AppID(raw)
	}
	return Package(raw)
}

func isAppID(s string) bool {
	if len(s) < 2 || s[0] != 'C' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate reports whether the key can be sent to the remote API.
func (k EntityKey) Validate() error {
	if strings.TrimSpace(k.Value) == "" {
		return errors.New("entity key value is required")
	}
	switch k.Kind {
	case KindAppID, KindPackage:
		return nil
	default:
		return fmt.Errorf("unknown entity key kind %q", k.Kind)
	}
}

// RequestField is the JSON field name the remote lookup expects for this key.
func (k EntityKey) RequestField() string {
	if k.Kind == KindAppID {
		return "appId"
	}
	return "pkgName"
}

// String renders the key for logs, e.g. "app_id:C123".
func (k EntityKey) String() string {
	return string(k.Kind) + ":" + k.Value
}
