package tool

import "context"

// Source enumerates the descriptors of one origin. Descriptors is called on
// every registry rebuild, so dynamic sources may return a different set each
// time.
type Source interface {
	Origin() Origin
	Descriptors(ctx context.Context) ([]Descriptor, error)
}

// StaticSource is a Source over a fixed set of descriptors.
type StaticSource struct {
	origin Origin
	descs  []Descriptor
}

// NewStaticSource returns a source that always yields descs, each stamped with
// origin.
func NewStaticSource(origin Origin, descs ...Descriptor) *StaticSource {
	stamped := make([]Descriptor, len(descs))
	for i, d := range descs {
		d.Origin = origin
		stamped[i] = d
	}
	return &StaticSource{origin: origin, descs: stamped}
}

// Origin implements Source.
func (s *StaticSource) Origin() Origin { return s.origin }

// Descriptors implements Source.
func (s *StaticSource) Descriptors(context.Context) ([]Descriptor, error) {
	return append([]Descriptor(nil), s.descs...), nil
}
