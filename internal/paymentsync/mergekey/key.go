// Package mergekey builds and parses merged-payment keys.
//
// A row key is derived from a file row's date, rounded absolute amount and
// notes. A merged key is one or more row keys joined by Separator, in the
// order the operator selected the rows.
package mergekey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

// Separator joins row keys. It is never produced inside a row key.
const Separator = "~"

const hashLen = 12

var (
	ErrEmptyKey      = errors.New("empty_merged_payment_key")
	ErrInvalidKey    = errors.New("invalid_merged_payment_key")
	ErrEmptySegment  = errors.New("empty_merged_payment_key_segment")
	ErrSeparatorUsed = errors.New("separator_in_row_key")
)

// RowKey returns the key for a single file row. The notes are slugified
// first so whitespace, punctuation and case drift between imports of the
// same bank row keep the same key.
func RowKey(date time.Time, amount decimal.Decimal, notes string) string {
	cents := amount.Abs().Round(2).Shift(2).IntPart()
	sum := sha256.Sum256([]byte(slug.Make(notes)))
	return fmt.Sprintf("%s-%d-%s", date.UTC().Format("20060102"), cents, hex.EncodeToString(sum[:])[:hashLen])
}

// Join concatenates row keys in order.
func Join(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", ErrEmptyKey
	}
	for _, key := range keys {
		if err := validateSegment(key); err != nil {
			return "", err
		}
	}
	return strings.Join(keys, Separator), nil
}

// Parse splits a merged key back into its row keys.
func Parse(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	parts := strings.Split(key, Separator)
	for _, part := range parts {
		if err := validateSegment(part); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// Validate reports whether key is a well-formed merged key.
func Validate(key string) error {
	_, err := Parse(key)
	return err
}

// SelectionKey identifies a selection of file rows regardless of the order
// they were picked in. It is a client cache key and is never persisted.
func SelectionKey(fileIDs []string) string {
	ids := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		ids = append(ids, strings.TrimSpace(id))
	}
	sort.SliceStable(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return strings.Join(ids, Separator)
}

func validateSegment(segment string) error {
	if segment == "" {
		return ErrEmptySegment
	}
	if strings.Contains(segment, Separator) {
		return ErrSeparatorUsed
	}
	for _, r := range segment {
		if !isKeyRune(r) {
			return ErrInvalidKey
		}
	}
	return nil
}

// isKeyRune allows the URL unreserved set minus the separator. RowKey
// itself only emits lowercase letters, digits and '-'.
func isKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	default:
		return false
	}
}
