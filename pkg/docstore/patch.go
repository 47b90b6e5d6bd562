package docstore

import "slices"

// Patch is the closed set of partial updates accepted by [Store.Patch].
// Nil pointer fields leave the corresponding attribute unchanged.
type Patch interface {
	// Target reports the collection the patch applies to.
	Target() Collection

	// ApplyTo mutates doc in place. It returns [ErrPatchMismatch] when doc is
	// not a variant of Target().
	ApplyTo(doc Document) error

	isPatch()
}

// LocationPatch updates the mutable attributes of a [Location].
type LocationPatch struct {
	Neighbors *[]string
	MapX      *int
	MapY      *int
	MapIcon   *string

	// Embedding replaces the vector; an empty slice clears it.
	Embedding *[]float32
}

func (p LocationPatch) Target() Collection { return CollectionLocations }
func (p LocationPatch) isPatch()           {}

func (p LocationPatch) ApplyTo(doc Document) error {
	l, ok := doc.(*Location)
	if !ok {
		return ErrPatchMismatch
	}
	if p.Neighbors != nil {
		l.Neighbors = slices.Clone(*p.Neighbors)
	}
	if p.MapX != nil {
		l.MapX = Ptr(*p.MapX)
	}
	if p.MapY != nil {
		l.MapY = Ptr(*p.MapY)
	}
	if p.MapIcon != nil {
		l.MapIcon = Ptr(*p.MapIcon)
	}
	if p.Embedding != nil {
		l.Embedding = nil
		if len(*p.Embedding) > 0 {
			l.Embedding = slices.Clone(*p.Embedding)
		}
	}
	return nil
}

// PlayerPatch updates a [PlayerState].
type PlayerPatch struct {
	CurrentLocationID *string
}

func (p PlayerPatch) Target() Collection { return CollectionPlayerStates }
func (p PlayerPatch) isPatch()           {}

func (p PlayerPatch) ApplyTo(doc Document) error {
	ps, ok := doc.(*PlayerState)
	if !ok {
		return ErrPatchMismatch
	}
	if p.CurrentLocationID != nil {
		ps.CurrentLocationID = *p.CurrentLocationID
	}
	return nil
}
