package refmodel

import (
	"fmt"
	"reflect"
)

// DetectedReference is one logical reference a detection pass found:
// a pointer to a named resource of (usually) known type.
type DetectedReference struct {
	Type  string // empty for a third-party/opaque reference
	Name  string
	Flags ReferenceFlags
}

// Detect walks instance (a struct value or pointer to one) according to
// storage's TypeInfoNode for typeName, appending every reference it finds
// to out. Detection is a pure read: it never mutates instance or storage.
//
// (type, name) pairs are de-duplicated against *out; when the same pair is
// seen twice with different flags, the flags are OR'd together rather than
// producing a second entry (spec.md §4.4 append semantics).
func Detect(storage *Storage, typeName string, instance any, out *[]DetectedReference) error {
	node, ok := storage.Nodes[typeName]
	if !ok {
		return nil // type carries no references worth checking
	}

	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("refmodel: Detect expects a struct or pointer to struct, got %s", v.Kind())
	}

	return detectStruct(storage, node, v, out)
}

func detectStruct(storage *Storage, node *TypeInfoNode, v reflect.Value, out *[]DetectedReference) error {
	for _, fi := range node.FieldsToCheck {
		if fi.Field.VisibilityFieldName != "" && !visibilityPasses(v, fi.Field) {
			continue
		}

		fv := v.FieldByName(fi.Field.Name)
		if !fv.IsValid() {
			continue
		}

		if fi.IsLeaf {
			if err := appendLeafReferences(v, fi, fv, out); err != nil {
				return err
			}
			continue
		}

		if err := detectNonLeaf(storage, fi, fv, out); err != nil {
			return err
		}
	}
	return nil
}

// visibilityPasses evaluates a field's visibility-condition gate against
// the containing instance (spec.md §4.4 step 1).
func visibilityPasses(owner reflect.Value, field FieldDescriptor) bool {
	gate := owner.FieldByName(field.VisibilityFieldName)
	if !gate.IsValid() {
		return true
	}
	val := gate.Int()
	for _, allowed := range field.VisibilityValues {
		if val == allowed {
			return true
		}
	}
	return false
}

// appendLeafReferences handles a field whose own ReferenceMeta marks it as
// a reference: an interned-string scalar, or an inline/dynamic array of
// interned strings (spec.md §3 I-R1, §4.4 step 2).
func appendLeafReferences(owner reflect.Value, fi FieldInfo, fv reflect.Value, out *[]DetectedReference) error {
	switch fi.Field.Archetype {
	case ArchetypeInternedString:
		appendRef(out, DetectedReference{Type: fi.ReferencedType, Name: fv.String(), Flags: fi.Flags})
		return nil

	case ArchetypeInlineArray, ArchetypeDynamicArray:
		n := fv.Len()
		if fi.Field.SizeFieldName != "" {
			if sizeField := owner.FieldByName(fi.Field.SizeFieldName); sizeField.IsValid() {
				n = liveArrayCount(sizeField, n)
			}
		}
		for i := 0; i < n && i < fv.Len(); i++ {
			appendRef(out, DetectedReference{Type: fi.ReferencedType, Name: fv.Index(i).String(), Flags: fi.Flags})
		}
		return nil

	default:
		return fmt.Errorf("refmodel: leaf reference field %q has unsupported archetype %s", fi.Field.Name, fi.Field.Archetype)
	}
}

// liveArrayCount reads an integer-kinded size field (spec.md §4.4
// "inline-array size resolution"); signed or unsigned, 1/2/4/8 bytes.
// Non-integer size fields are rejected by falling back to staticLen.
func liveArrayCount(sizeField reflect.Value, staticLen int) int {
	switch sizeField.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(sizeField.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(sizeField.Uint())
	default:
		return staticLen
	}
}

// detectNonLeaf handles a field that recurses into a referencing
// substructure: a struct, an array of structs, or a patch.
func detectNonLeaf(storage *Storage, fi FieldInfo, fv reflect.Value, out *[]DetectedReference) error {
	switch {
	case fi.Field.Archetype == ArchetypePatch:
		patch, ok := fv.Interface().(Patch)
		if !ok {
			return fmt.Errorf("refmodel: patch field %q does not hold a Patch value", fi.Field.Name)
		}
		return Walk(storage, fi.Field.StructType, patch, out)

	case fi.Field.Archetype == ArchetypeStruct:
		sub, ok := storage.Nodes[fi.Field.StructType]
		if !ok {
			return nil
		}
		return detectStruct(storage, sub, derefStruct(fv), out)

	case fi.Field.Archetype == ArchetypeInlineArray || fi.Field.Archetype == ArchetypeDynamicArray:
		sub, ok := storage.Nodes[fi.Field.StructType]
		if !ok {
			return nil
		}
		for i := 0; i < fv.Len(); i++ {
			if err := detectStruct(storage, sub, derefStruct(fv.Index(i)), out); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func derefStruct(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

// appendRef implements the append semantics of spec.md §4.4 / §3:
// empty names are discarded; identical (type, name) triples merge with
// flags OR'd together.
func appendRef(out *[]DetectedReference, ref DetectedReference) {
	if ref.Name == "" {
		return
	}
	for i := range *out {
		existing := &(*out)[i]
		if existing.Type == ref.Type && existing.Name == ref.Name {
			existing.Flags |= ref.Flags
			return
		}
	}
	*out = append(*out, ref)
}
