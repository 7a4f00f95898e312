// Package refmodel implements the Resource Reference / Reflection model: a
// registry-driven scanner that, given arbitrary typed data (including
// patches — serialized partial mutations), enumerates the logical resource
// references it contains.
package refmodel

// Archetype is the structural kind of a field. Dispatch on Archetype
// replaces any polymorphism in this package; every switch over it is meant
// to be exhaustive.
type Archetype int

const (
	ArchetypeScalar Archetype = iota
	ArchetypeEnum
	ArchetypeInternedString
	ArchetypePointer
	ArchetypeStruct
	ArchetypeInlineArray
	ArchetypeDynamicArray
	ArchetypePatch
)

func (a Archetype) String() string {
	switch a {
	case ArchetypeScalar:
		return "scalar"
	case ArchetypeEnum:
		return "enum"
	case ArchetypeInternedString:
		return "interned_string"
	case ArchetypePointer:
		return "pointer"
	case ArchetypeStruct:
		return "struct"
	case ArchetypeInlineArray:
		return "inline_array"
	case ArchetypeDynamicArray:
		return "dynamic_array"
	case ArchetypePatch:
		return "patch"
	default:
		return "unknown"
	}
}

// FieldDescriptor describes one field of a struct type as the Reflection
// Registry sees it: archetype, size, offset, and (for arrays) the element
// archetype plus an optional size field. Visibility-conditioned fields
// carry the name of the sibling field whose value gates this one's
// presence plus the set of values for which the field is visible.
type FieldDescriptor struct {
	Name   string
	Offset int
	Size   int

	Archetype  Archetype
	StructType string // valid when Archetype == ArchetypeStruct or ItemArchetype == ArchetypeStruct

	// Reference metadata, present when this field itself carries a
	// ReferenceMeta (a "leaf" reference field).
	Reference *ReferenceMeta

	// Array-only fields.
	ItemArchetype Archetype
	ItemSize      int
	SizeFieldName string // name of a sibling integer field giving the live element count

	VisibilityFieldName string
	VisibilityValues    []int64
}

// StructDescriptor describes one struct type's full field layout.
type StructDescriptor struct {
	Name   string
	Size   int
	Fields []FieldDescriptor

	ResourceType *ResourceTypeMeta
	BuildRule    *BuildRuleMeta
}

// Registry is the external Reflection Registry contract: structural
// descriptions of types, their archetypes, and the metas attached to
// types and fields. A Registry is a read-only dependency; this package
// never mutates one.
type Registry interface {
	// StructTypes enumerates every struct type the registry knows about.
	StructTypes() []string

	// LookupStruct returns the full field layout for name.
	LookupStruct(name string) (StructDescriptor, bool)

	// FieldAtOffset finds the field of typeName whose byte range contains
	// offset, used by the patch walker to resolve a section marker's
	// source field.
	FieldAtOffset(typeName string, offset int) (FieldDescriptor, bool)
}
