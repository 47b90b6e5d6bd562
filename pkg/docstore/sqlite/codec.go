package sqlite

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRow decodes a (collection, body, embedding) row.
func scanRow(row rowScanner) (docstore.Document, error) {
	var (
		collection string
		body       string
		blob       []byte
	)
	if err := row.Scan(&collection, &body, &blob); err != nil {
		return nil, err
	}

	var doc docstore.Document
	switch docstore.Collection(collection) {
	case docstore.CollectionLocations:
		doc = &docstore.Location{}
	case docstore.CollectionPlayerStates:
		doc = &docstore.PlayerState{}
	case docstore.CollectionShops:
		doc = &docstore.Shop{}
	case docstore.CollectionMemories:
		doc = &docstore.Memory{}
	default:
		return nil, fmt.Errorf("%w: %q", docstore.ErrUnsupportedCollection, collection)
	}
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", collection, err)
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	switch d := doc.(type) {
	case *docstore.Location:
		d.Embedding = vec
		if d.Neighbors == nil {
			d.Neighbors = []string{}
		}
	case *docstore.Memory:
		d.Embedding = vec
	}
	return doc, nil
}

// encodeBody serialises doc without its embedding, which lives in its own
// BLOB column.
func encodeBody(doc docstore.Document) (string, error) {
	doc = doc.Clone()
	switch d := doc.(type) {
	case *docstore.Location:
		d.Embedding = nil
	case *docstore.Memory:
		d.Embedding = nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeVector packs v as little-endian float32 values. An empty vector is
// stored as NULL.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 array", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
