package refmodel

import "fmt"

// SectionType distinguishes the two ways a section marker scopes
// subsequent data chunks against a dynamic array field.
type SectionType int

const (
	// DynamicArraySet scopes chunks as a full replacement of the array's
	// backing buffer.
	DynamicArraySet SectionType = iota
	// DynamicArrayAppend scopes a single chunk as one freshly appended
	// element.
	DynamicArrayAppend
)

// PatchNode is either a Chunk or a SectionMarker; Patch.Nodes is a stream
// of these (spec.md §4.5).
type PatchNode interface{ isPatchNode() }

// Chunk is a data chunk: a byte range with raw bytes, interpreted relative
// to whatever section frame is on top of the walker's stack (or the root
// patch type, if the stack is empty).
type Chunk struct {
	Offset int
	Size   int
	Bytes  []byte
}

func (Chunk) isPatchNode() {}

// SectionMarker scopes subsequent chunks to one dynamic-array field of a
// parent struct.
type SectionMarker struct {
	SectionID            int
	ParentSectionID      int // 0 means "top level", i.e. scoped to the patch root
	Type                 SectionType
	SourceOffsetInParent int
}

func (SectionMarker) isPatchNode() {}

// Patch is a sparse, ordered description of mutations against a base
// struct of type RootType.
type Patch struct {
	RootType string
	Nodes    []PatchNode
}

// maxSectionDepth bounds the walker's active-section stack (spec.md §9:
// "a reasonable stack cap (≈16) is sufficient for all observed shapes;
// overflow is a hard error").
const maxSectionDepth = 16

type sectionFrame struct {
	id          int
	kind        SectionType
	parentType  string // struct type the source field belongs to
	sourceField FieldDescriptor
	elementType string // struct type of one array element, for array-of-struct fields
	baseOffset  int    // absolute offset, in patch coordinate space, of elementType at index 0
}

// Walk runs the patch state machine described in spec.md §4.5, appending
// every reference it finds to out.
func Walk(storage *Storage, rootType string, patch Patch, out *[]DetectedReference) error {
	w := &patchWalker{storage: storage, rootType: rootType, out: out}
	for _, node := range patch.Nodes {
		switch n := node.(type) {
		case SectionMarker:
			if err := w.pushSection(n); err != nil {
				return err
			}
		case Chunk:
			if err := w.chunk(n); err != nil {
				return err
			}
		default:
			return fmt.Errorf("refmodel: unknown patch node type %T", node)
		}
	}
	return nil
}

type patchWalker struct {
	storage  *Storage
	rootType string
	out      *[]DetectedReference
	stack    []sectionFrame
}

func (w *patchWalker) pushSection(marker SectionMarker) error {
	// Pop back to the frame whose id equals parent_section_id (empty if
	// top-level).
	if marker.ParentSectionID == 0 {
		w.stack = w.stack[:0]
	} else {
		idx := -1
		for i, f := range w.stack {
			if f.id == marker.ParentSectionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("refmodel: patch section %d names unknown parent %d", marker.SectionID, marker.ParentSectionID)
		}
		w.stack = w.stack[:idx+1]
	}

	parentType := w.rootType
	parentBase := 0
	if len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		parentType = top.elementType
		parentBase = top.baseOffset
	}

	desc, ok := w.storage.registry.LookupStruct(parentType)
	if !ok {
		return fmt.Errorf("refmodel: patch section parent type %q not found", parentType)
	}
	offset := marker.SourceOffsetInParent
	if desc.Size > 0 {
		offset = offset % desc.Size
	}
	field, ok := w.storage.registry.FieldAtOffset(parentType, offset)
	if !ok {
		return fmt.Errorf("refmodel: patch section source offset %d not found in %q", offset, parentType)
	}
	if field.Archetype != ArchetypeDynamicArray {
		return fmt.Errorf("refmodel: patch section source field %q is not a dynamic array", field.Name)
	}

	if len(w.stack) >= maxSectionDepth {
		return fmt.Errorf("refmodel: patch section stack overflow (depth %d)", maxSectionDepth)
	}

	w.stack = append(w.stack, sectionFrame{
		id:          marker.SectionID,
		kind:        marker.Type,
		parentType:  parentType,
		sourceField: field,
		elementType: field.StructType,
		baseOffset:  parentBase + field.Offset,
	})
	return nil
}

func (w *patchWalker) chunk(c Chunk) error {
	if len(w.stack) == 0 {
		return w.chunkHelper(w.rootType, 0, c)
	}

	top := w.stack[len(w.stack)-1]
	switch {
	case top.kind == DynamicArraySet && top.sourceField.ItemArchetype == ArchetypeInternedString && top.sourceField.Reference != nil:
		return w.walkInternedStringArray(top, c)

	case top.kind == DynamicArraySet && top.sourceField.ItemArchetype == ArchetypeStruct:
		stride := top.sourceField.ItemSize
		if stride <= 0 {
			return fmt.Errorf("refmodel: dynamic array of struct field %q has no item size", top.sourceField.Name)
		}
		for elemOffset := (c.Offset / stride) * stride; elemOffset < c.Offset+c.Size; elemOffset += stride {
			if err := w.chunkHelper(top.elementType, top.baseOffset+elemOffset, Chunk{Offset: c.Offset, Size: c.Size, Bytes: c.Bytes}); err != nil {
				return err
			}
		}
		return nil

	case top.kind == DynamicArrayAppend:
		if top.sourceField.ItemArchetype != ArchetypeStruct {
			return nil // only struct archetype is appendable
		}
		return w.chunkHelper(top.elementType, 0, c)

	default:
		return nil // other item archetypes contribute nothing
	}
}

// walkInternedStringArray handles a dynamic_array_set chunk over a
// dynamic-array-of-interned-string leaf reference field: a packed array of
// interned strings, stride = declared item size.
func (w *patchWalker) walkInternedStringArray(top sectionFrame, c Chunk) error {
	stride := top.sourceField.ItemSize
	if stride <= 0 {
		return fmt.Errorf("refmodel: interned string array field %q has no item size", top.sourceField.Name)
	}
	for pos := 0; pos+stride <= len(c.Bytes); pos += stride {
		name := decodeInternedString(c.Bytes[pos : pos+stride])
		appendRef(w.out, DetectedReference{
			Type:  top.sourceField.Reference.ReferencedType,
			Name:  name,
			Flags: top.sourceField.Reference.Flags,
		})
	}
	return nil
}

// chunkHelper is the shared "detect references inside data chunk for
// struct instance" routine (spec.md §4.5 "Chunk helper"): for every field
// in structType's fields_to_check, if the field's absolute byte range
// intersects the chunk, emit references for the overlapping bytes.
// Visibility-conditioned fields inside patches are unsupported and are
// skipped (spec.md §7: logged and skipped, not an error).
func (w *patchWalker) chunkHelper(structType string, baseOffset int, c Chunk) error {
	node, ok := w.storage.Nodes[structType]
	if !ok {
		return nil
	}

	for _, fi := range node.FieldsToCheck {
		if fi.Field.VisibilityFieldName != "" {
			continue // unsupported inside patches; skip
		}
		fieldStart := baseOffset + fi.Field.Offset
		fieldEnd := fieldStart + fi.Field.Size
		if fieldEnd <= c.Offset || fieldStart >= c.Offset+c.Size {
			continue // no intersection
		}

		switch {
		case fi.IsLeaf && fi.Field.Archetype == ArchetypeInternedString:
			lo, hi := intersect(fieldStart, fieldEnd, c.Offset, c.Offset+c.Size)
			raw := sliceRelative(c, lo, hi)
			appendRef(w.out, DetectedReference{Type: fi.ReferencedType, Name: decodeInternedString(raw), Flags: fi.Flags})

		case fi.IsLeaf && (fi.Field.Archetype == ArchetypeInlineArray || fi.Field.Archetype == ArchetypeDynamicArray):
			// Inline arrays iterate the full static extent inside patches
			// (size_field is not considered valid here, per spec.md §4.5).
			stride := fi.Field.ItemSize
			if stride <= 0 {
				continue
			}
			count := fi.Field.Size / stride
			for i := 0; i < count; i++ {
				elemStart := fieldStart + i*stride
				elemEnd := elemStart + stride
				if elemEnd <= c.Offset || elemStart >= c.Offset+c.Size {
					continue
				}
				lo, hi := intersect(elemStart, elemEnd, c.Offset, c.Offset+c.Size)
				raw := sliceRelative(c, lo, hi)
				appendRef(w.out, DetectedReference{Type: fi.ReferencedType, Name: decodeInternedString(raw), Flags: fi.Flags})
			}

		case !fi.IsLeaf && fi.Field.Archetype == ArchetypeStruct:
			if err := w.chunkHelper(fi.Field.StructType, fieldStart, c); err != nil {
				return err
			}

		case !fi.IsLeaf && (fi.Field.Archetype == ArchetypeInlineArray || fi.Field.Archetype == ArchetypeDynamicArray) && fi.Field.ItemArchetype == ArchetypeStruct:
			stride := fi.Field.ItemSize
			if stride <= 0 {
				continue
			}
			count := fi.Field.Size / stride
			for i := 0; i < count; i++ {
				elemStart := fieldStart + i*stride
				if err := w.chunkHelper(fi.Field.StructType, elemStart, c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func intersect(aLo, aHi, bLo, bHi int) (int, int) {
	lo := aLo
	if bLo > lo {
		lo = bLo
	}
	hi := aHi
	if bHi < hi {
		hi = bHi
	}
	return lo, hi
}

// sliceRelative returns c.Bytes[lo-c.Offset : hi-c.Offset], clamped to the
// chunk's actual byte length.
func sliceRelative(c Chunk, lo, hi int) []byte {
	start := lo - c.Offset
	end := hi - c.Offset
	if start < 0 {
		start = 0
	}
	if end > len(c.Bytes) {
		end = len(c.Bytes)
	}
	if start > end {
		return nil
	}
	return c.Bytes[start:end]
}

// decodeInternedString trims trailing NUL padding from a fixed-width
// interned-string slot.
func decodeInternedString(raw []byte) string {
	n := len(raw)
	for n > 0 && raw[n-1] == 0 {
		n--
	}
	return string(raw[:n])
}
