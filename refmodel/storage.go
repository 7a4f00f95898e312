package refmodel

import "fmt"

// FieldInfo is one entry in a TypeInfoNode's fields_to_check: either a leaf
// field that itself carries a ReferenceMeta, or a field that recurses into
// a referencing substructure.
type FieldInfo struct {
	Field FieldDescriptor

	// IsLeaf is true when Field.Reference is set directly on this field;
	// false when the field's struct/array-of-struct type itself has a
	// non-empty fields_to_check and must be recursed into.
	IsLeaf bool

	// ReferencedType mirrors Field.Reference.ReferencedType for leaf
	// fields; empty for non-leaf fields (the recursion target is
	// Field.StructType / Field.ItemArchetype instead).
	ReferencedType string
	Flags          ReferenceFlags
}

// TypeInfoNode is the per-struct-type result of a Storage build.
type TypeInfoNode struct {
	Name            string
	IsResourceType  bool
	ContainsPatches bool
	FieldsToCheck   []FieldInfo

	// ReferencerTypes lists type names whose instances transitively may
	// point at this type (populated when this node is a resource type;
	// reverse index maintained during the build).
	ReferencerTypes []string

	scannedFlag bool
}

// Storage is the immutable, built-once result of scanning a Registry
// snapshot: a map from type name to its TypeInfoNode, plus the list of
// resource types that can reference arbitrary opaque third-party assets
// (because they contain a patch field, which can point at anything).
type Storage struct {
	Nodes                 map[string]*TypeInfoNode
	ThirdPartyReferencers []string

	registry Registry
}

// BuildStorage scans registry and produces a Storage per spec.md §4.3:
//
//  1. First pass: eagerly create a TypeInfoNode for every type carrying a
//     ResourceTypeMeta, so resources are discoverable even when not
//     transitively reachable through other resources.
//  2. Second pass: walk every type's fields, recording fields_to_check and
//     propagating referencer_types / contains_patches.
//  3. Finalization: any resource type with contains_patches becomes a
//     third-party referencer, and every other resource type gains it as a
//     referencer (patches can point at anything).
//
// A type that is not a resource type and has no fields-to-check,
// referencers or patches is discarded as soon as its own scan finishes.
func BuildStorage(registry Registry) (*Storage, error) {
	s := &Storage{Nodes: make(map[string]*TypeInfoNode), registry: registry}

	for _, name := range registry.StructTypes() {
		desc, ok := registry.LookupStruct(name)
		if !ok {
			continue
		}
		if desc.ResourceType != nil {
			s.Nodes[name] = &TypeInfoNode{Name: name, IsResourceType: true}
		}
	}

	for _, name := range registry.StructTypes() {
		if _, err := s.scanType(name); err != nil {
			return nil, err
		}
	}

	s.finalize()
	return s, nil
}

// scanType walks typeName's fields, memoizing the result in s.Nodes so
// cyclic and mutually-recursive struct graphs terminate at the
// "already present" check rather than recursing forever.
func (s *Storage) scanType(typeName string) (*TypeInfoNode, error) {
	if node, ok := s.Nodes[typeName]; ok && node.scanned() {
		return node, nil
	}

	desc, ok := s.registry.LookupStruct(typeName)
	if !ok {
		return nil, fmt.Errorf("refmodel: unknown struct type %q", typeName)
	}

	node := s.Nodes[typeName]
	if node == nil {
		node = &TypeInfoNode{Name: typeName}
		s.Nodes[typeName] = node
	}
	node.markScanned()

	for _, field := range desc.Fields {
		if err := s.scanField(typeName, node, field); err != nil {
			return nil, err
		}
	}

	if len(node.FieldsToCheck) == 0 && len(node.ReferencerTypes) == 0 && !node.IsResourceType && !node.ContainsPatches {
		delete(s.Nodes, typeName)
		return nil, nil
	}
	return node, nil
}

func (s *Storage) scanField(ownerType string, node *TypeInfoNode, field FieldDescriptor) error {
	switch {
	case field.Reference != nil:
		// Leaf reference field (spec.md §4.3 step 2, first bullet).
		node.FieldsToCheck = append(node.FieldsToCheck, FieldInfo{
			Field:          field,
			IsLeaf:         true,
			ReferencedType: field.Reference.ReferencedType,
			Flags:          field.Reference.Flags,
		})
		s.recordReferencer(field.Reference.ReferencedType, ownerType)

	case field.Archetype == ArchetypePatch:
		node.ContainsPatches = true
		node.FieldsToCheck = append(node.FieldsToCheck, FieldInfo{Field: field})

	case field.Archetype == ArchetypeStruct:
		sub, err := s.scanType(field.StructType)
		if err != nil {
			return err
		}
		if sub != nil && (len(sub.FieldsToCheck) > 0 || sub.ContainsPatches) {
			node.FieldsToCheck = append(node.FieldsToCheck, FieldInfo{Field: field})
			if sub.ContainsPatches {
				node.ContainsPatches = true
			}
		}

	case (field.Archetype == ArchetypeInlineArray || field.Archetype == ArchetypeDynamicArray) && field.ItemArchetype == ArchetypeStruct:
		sub, err := s.scanType(field.StructType)
		if err != nil {
			return err
		}
		if sub != nil && (len(sub.FieldsToCheck) > 0 || sub.ContainsPatches) {
			node.FieldsToCheck = append(node.FieldsToCheck, FieldInfo{Field: field})
			if sub.ContainsPatches {
				node.ContainsPatches = true
			}
		}
	}
	return nil
}

// recordReferencer updates referencedType's referencer_types list
// (spec.md §4.3 step 3), or appends ownerType to the storage-wide
// third-party-referencers list if referencedType is empty (third-party /
// opaque reference).
func (s *Storage) recordReferencer(referencedType, ownerType string) {
	if referencedType == "" {
		s.ThirdPartyReferencers = appendUnique(s.ThirdPartyReferencers, ownerType)
		return
	}
	target, ok := s.Nodes[referencedType]
	if !ok {
		target = &TypeInfoNode{Name: referencedType}
		s.Nodes[referencedType] = target
	}
	target.ReferencerTypes = appendUnique(target.ReferencerTypes, ownerType)
}

// finalize implements spec.md §4.3 step 4.
func (s *Storage) finalize() {
	var patchy []string
	for name, node := range s.Nodes {
		if node.IsResourceType && node.ContainsPatches {
			patchy = append(patchy, name)
		}
	}
	for _, name := range patchy {
		s.ThirdPartyReferencers = appendUnique(s.ThirdPartyReferencers, name)
	}
	for _, node := range s.Nodes {
		if !node.IsResourceType {
			continue
		}
		for _, patchyName := range patchy {
			if patchyName == node.Name {
				continue
			}
			node.ReferencerTypes = appendUnique(node.ReferencerTypes, patchyName)
		}
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// scanned/markScanned track whether scanType has already walked a node's
// fields, distinguishing a pass-1 placeholder (IsResourceType only) from a
// fully-scanned node without reintroducing a separate visited set.
func (n *TypeInfoNode) scanned() bool { return n.scannedFlag }
func (n *TypeInfoNode) markScanned()  { n.scannedFlag = true }
