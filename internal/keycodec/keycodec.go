// Package keycodec maps a (table, key, field) triple to the entity identifier
// stored on the backend nodes.
//
// A logical record is never stored as one object. Each field lives under its
// own entity id, built by concatenating table and key verbatim and appending
// a delimiter and the field name:
//
//	Encode("usertable", "user1", "field0", OpRead)   -> "usertableuser1|field0"
//	Encode("usertable", "user1", "",       OpDelete) -> "usertableuser1*"
//
// Deletes address the whole record by prefix and use a different delimiter
// than every other operation. The backend protocol was defined this way and
// the asymmetry is kept as is.
//
// Nothing is escaped. Callers must keep both delimiters out of table, key and
// field names, and must not rely on table/key boundaries: ("ta", "k") and
// ("t", "ak") produce the same prefix. Such collisions are not detected.
package keycodec

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// FieldDelimiter separates the record prefix from the field name for
	// reads, inserts and updates.
	FieldDelimiter = "|"

	// RecordDelimiter terminates the record prefix of a delete. The field
	// name is omitted.
	RecordDelimiter = "*"
)

// ErrMalformedIdentifier is returned when an identifier cannot be carried
// in a request URI.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// Op is the kind of logical operation an entity id is built for.
type Op int

const (
	OpRead Op = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Delimiter returns the delimiter used by op.
func (o Op) Delimiter() string {
	if o == OpDelete {
		return RecordDelimiter
	}
	return FieldDelimiter
}

// RecordPrefix joins table and key without a separator.
func RecordPrefix(table, key string) string {
	return table + key
}

// Encode builds the entity id for op. For OpDelete the field is ignored.
func Encode(table, key, field string, op Op) (string, error) {
	for _, part := range [...]string{table, key, field} {
		if err := validate(part); err != nil {
			return "", err
		}
	}
	if op == OpDelete {
		return RecordPrefix(table, key) + RecordDelimiter, nil
	}
	return RecordPrefix(table, key) + FieldDelimiter + field, nil
}

// DeletePrefix converts a delete id back into the prefix shared by all field
// ids of the record ("tk*" -> "tk|"). ok is false when id is not a delete id.
func DeletePrefix(id string) (prefix string, ok bool) {
	n := len(id) - len(RecordDelimiter)
	if n < 0 || id[n:] != RecordDelimiter {
		return "", false
	}
	return id[:n] + FieldDelimiter, true
}

func validate(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid utf-8 in %q", ErrMalformedIdentifier, s)
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c == 0x7f {
			return fmt.Errorf("%w: control character %#x in %q", ErrMalformedIdentifier, c, s)
		}
	}
	return nil
}
