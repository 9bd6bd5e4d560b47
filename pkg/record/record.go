// Package record defines the unit of ingestion and its content hash.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/document"
)

// Record is one document fetched from an endpoint for one year.
type Record struct {
	EndpointKey string
	Year        int
	// Payload is the canonical encoding of the document. It is what gets
	// hashed and what gets stored.
	Payload   []byte
	Hash      string
	FetchedAt time.Time
}

// New builds a record from a fetched document and computes its hash.
func New(endpointKey string, year int, doc *document.Object, fetchedAt time.Time) (Record, error) {
	payload, err := doc.Canonical()
	if err != nil {
		return Record{}, fmt.Errorf("canonicalize %s/%d document: %w", endpointKey, year, err)
	}
	return Record{
		EndpointKey: endpointKey,
		Year:        year,
		Payload:     payload,
		Hash:        HashCanonical(endpointKey, year, payload),
		FetchedAt:   fetchedAt,
	}, nil
}

// Hash returns the content hash of doc fetched from endpointKey for year:
// hex(sha256(endpointKey + "_" + year + "_" + canonical JSON)).
func Hash(endpointKey string, year int, doc *document.Object) (string, error) {
	payload, err := doc.Canonical()
	if err != nil {
		return "", err
	}
	return HashCanonical(endpointKey, year, payload), nil
}

// HashCanonical hashes an already canonical payload.
func HashCanonical(endpointKey string, year int, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(endpointKey))
	h.Write([]byte{'_'})
	h.Write([]byte(strconv.Itoa(year)))
	h.Write([]byte{'_'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
