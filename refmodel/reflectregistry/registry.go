// Package reflectregistry is the default Reflection Registry implementation
// (spec.md §6): it derives FieldDescriptors for Go struct types using the
// standard reflect package plus `kan:"..."` struct tags, rather than
// requiring every consumer to hand-write a registry. This is the one
// component in the whole module that leans on the standard library's
// reflect package instead of a third-party dependency, because no example in the corpus
// ships a generic structural-reflection library for arbitrary user types —
// reflect is the only tool available for that job.
package reflectregistry

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/kan-go/workflow/refmodel"
)

const (
	defaultInternedStringSize = 32
	dynamicArrayHandleSize    = 8
)

// Builder accumulates Go struct types and their resource/build-rule metas,
// then produces an immutable refmodel.Registry.
type Builder struct {
	types        map[string]reflect.Type
	resourceMeta map[string]refmodel.ResourceTypeMeta
	buildRules   map[string]refmodel.BuildRuleMeta
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		types:        make(map[string]reflect.Type),
		resourceMeta: make(map[string]refmodel.ResourceTypeMeta),
		buildRules:   make(map[string]refmodel.BuildRuleMeta),
	}
}

// RegisterType adds a struct type to the registry, keyed by its Go type
// name. instance may be a struct value or a pointer to one.
func (b *Builder) RegisterType(instance any) *Builder {
	t := reflect.TypeOf(instance)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	b.types[t.Name()] = t
	return b
}

// MarkResource marks typeName as a resource type, optionally ROOT.
func (b *Builder) MarkResource(typeName string, flags refmodel.ResourceTypeFlags) *Builder {
	b.resourceMeta[typeName] = refmodel.ResourceTypeMeta{Flags: flags}
	return b
}

// MarkBuildRule attaches a BuildRuleMeta to typeName.
func (b *Builder) MarkBuildRule(typeName string, meta refmodel.BuildRuleMeta) *Builder {
	b.buildRules[typeName] = meta
	return b
}

// Build produces the Registry. Field offsets are assigned by walking each
// type's Go fields in declaration order and accumulating a synthetic
// cumulative size; they describe a coordinate space internal to this
// registry, not real memory layout, which is sufficient for both instance
// detection (driven by field name) and patch byte-offset walking (driven
// by offsets this same registry assigned).
func (b *Builder) Build() *Registry {
	r := &Registry{
		types:   b.types,
		structs: make(map[string]refmodel.StructDescriptor),
	}
	for name := range b.types {
		r.describe(name, b.resourceMeta, b.buildRules)
	}
	return r
}

// Registry implements refmodel.Registry over Go struct types described via
// reflection and `kan` struct tags.
type Registry struct {
	types   map[string]reflect.Type
	structs map[string]refmodel.StructDescriptor
}

func (r *Registry) StructTypes() []string {
	names := make([]string, 0, len(r.structs))
	for name := range r.structs {
		names = append(names, name)
	}
	return names
}

func (r *Registry) LookupStruct(name string) (refmodel.StructDescriptor, bool) {
	d, ok := r.structs[name]
	return d, ok
}

func (r *Registry) FieldAtOffset(typeName string, offset int) (refmodel.FieldDescriptor, bool) {
	desc, ok := r.structs[typeName]
	if !ok {
		return refmodel.FieldDescriptor{}, false
	}
	for _, f := range desc.Fields {
		if offset >= f.Offset && offset < f.Offset+f.Size {
			return f, true
		}
	}
	return refmodel.FieldDescriptor{}, false
}

// describe computes (and memoizes) the StructDescriptor for name,
// recursing into nested struct field types as needed. A placeholder with
// Size 0 is installed before recursing so self-referential struct types
// terminate instead of looping forever (mirrors the cycle handling the
// reference model itself uses for TypeInfoNode construction).
func (r *Registry) describe(name string, resourceMeta map[string]refmodel.ResourceTypeMeta, buildRules map[string]refmodel.BuildRuleMeta) refmodel.StructDescriptor {
	if d, ok := r.structs[name]; ok {
		return d
	}
	t, ok := r.types[name]
	if !ok {
		return refmodel.StructDescriptor{Name: name}
	}

	r.structs[name] = refmodel.StructDescriptor{Name: name}

	var fields []refmodel.FieldDescriptor
	offset := 0
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fd := r.describeField(sf, offset, resourceMeta, buildRules)
		fields = append(fields, fd)
		offset += fd.Size
	}

	desc := refmodel.StructDescriptor{Name: name, Size: offset, Fields: fields}
	if meta, ok := resourceMeta[name]; ok {
		m := meta
		desc.ResourceType = &m
	}
	if rule, ok := buildRules[name]; ok {
		rr := rule
		desc.BuildRule = &rr
	}
	r.structs[name] = desc
	return desc
}

func (r *Registry) describeField(sf reflect.StructField, offset int, resourceMeta map[string]refmodel.ResourceTypeMeta, buildRules map[string]refmodel.BuildRuleMeta) refmodel.FieldDescriptor {
	tag := parseTag(sf.Tag.Get("kan"))

	fd := refmodel.FieldDescriptor{Name: sf.Name, Offset: offset}

	if ref, ok := tag.reference(); ok {
		fd.Reference = &ref
	}
	if vf, values, ok := tag.visibility(); ok {
		fd.VisibilityFieldName = vf
		fd.VisibilityValues = values
	}
	if sizeField, ok := tag.sizeField(); ok {
		fd.SizeFieldName = sizeField
	}

	switch ft := baseType(sf.Type); {
	case ft.Kind() == reflect.String:
		fd.Archetype = refmodel.ArchetypeInternedString
		fd.Size = defaultInternedStringSize

	case ft.Kind() == reflect.Struct && ft == patchType:
		fd.Archetype = refmodel.ArchetypePatch
		if root, ok := tag.patchRoot(); ok {
			fd.StructType = root
		}
		fd.Size = dynamicArrayHandleSize

	case ft.Kind() == reflect.Struct:
		fd.Archetype = refmodel.ArchetypeStruct
		fd.StructType = ft.Name()
		sub := r.describe(ft.Name(), resourceMeta, buildRules)
		fd.Size = sub.Size

	case ft.Kind() == reflect.Slice:
		fd.Archetype = refmodel.ArchetypeDynamicArray
		elem := ft.Elem()
		switch {
		case elem.Kind() == reflect.String:
			fd.ItemArchetype = refmodel.ArchetypeInternedString
			fd.ItemSize = defaultInternedStringSize
		case elem.Kind() == reflect.Struct:
			fd.ItemArchetype = refmodel.ArchetypeStruct
			fd.StructType = elem.Name()
			sub := r.describe(elem.Name(), resourceMeta, buildRules)
			fd.ItemSize = sub.Size
		}
		fd.Size = dynamicArrayHandleSize

	case ft.Kind() == reflect.Array:
		fd.Archetype = refmodel.ArchetypeInlineArray
		elem := ft.Elem()
		switch {
		case elem.Kind() == reflect.String:
			fd.ItemArchetype = refmodel.ArchetypeInternedString
			fd.ItemSize = defaultInternedStringSize
		case elem.Kind() == reflect.Struct:
			fd.ItemArchetype = refmodel.ArchetypeStruct
			fd.StructType = elem.Name()
			sub := r.describe(elem.Name(), resourceMeta, buildRules)
			fd.ItemSize = sub.Size
		}
		fd.Size = fd.ItemSize * ft.Len()

	default:
		fd.Archetype = refmodel.ArchetypeScalar
		fd.Size = 8
	}

	return fd
}

func baseType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

var patchType = reflect.TypeOf(refmodel.Patch{})

// kanTag is the parsed form of a `kan:"..."` struct tag: a comma-separated
// list of key=value (or bare) directives.
type kanTag struct {
	pairs map[string]string
	bare  map[string]bool
}

func parseTag(raw string) kanTag {
	t := kanTag{pairs: map[string]string{}, bare: map[string]bool{}}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			t.pairs[k] = v
		} else {
			t.bare[part] = true
		}
	}
	return t
}

func (t kanTag) reference() (refmodel.ReferenceMeta, bool) {
	v, ok := t.pairs["ref"]
	if !ok {
		return refmodel.ReferenceMeta{}, false
	}
	meta := refmodel.ReferenceMeta{ReferencedType: v}
	if flags, ok := t.pairs["flags"]; ok {
		for _, f := range strings.Split(flags, "|") {
			switch f {
			case "required":
				meta.Flags |= refmodel.ReferenceFlagRequired
			case "platform_optional":
				meta.Flags |= refmodel.ReferenceFlagPlatformOptional
			}
		}
	}
	return meta, true
}

func (t kanTag) visibility() (field string, values []int64, ok bool) {
	v, present := t.pairs["visible_if"]
	if !present {
		return "", nil, false
	}
	name, valuesStr, _ := strings.Cut(v, ":")
	for _, s := range strings.Split(valuesStr, "|") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			values = append(values, n)
		}
	}
	return name, values, true
}

func (t kanTag) sizeField() (string, bool) {
	v, ok := t.pairs["size"]
	return v, ok
}

func (t kanTag) patchRoot() (string, bool) {
	v, ok := t.pairs["patchroot"]
	return v, ok
}
