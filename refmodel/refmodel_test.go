package refmodel_test

import (
	"testing"

	"github.com/kan-go/workflow/refmodel"
	"github.com/kan-go/workflow/refmodel/reflectregistry"
)

type LevelResource struct {
	Name string
}

type Level struct {
	Level string `kan:"ref=LevelResource,flags=required"`
}

func buildLevelRegistry() *reflectregistry.Registry {
	return reflectregistry.NewBuilder().
		RegisterType(Level{}).
		RegisterType(LevelResource{}).
		MarkResource("Level", refmodel.ResourceFlagRoot).
		MarkResource("LevelResource", refmodel.ResourceFlagRoot).
		Build()
}

func TestFlatReferenceDetection(t *testing.T) {
	storage, err := refmodel.BuildStorage(buildLevelRegistry())
	if err != nil {
		t.Fatalf("BuildStorage: %v", err)
	}

	instance := Level{Level: "lobby"}
	var out []refmodel.DetectedReference
	if err := refmodel.Detect(storage, "Level", &instance, &out); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if len(out) != 1 {
		t.Fatalf("expected exactly one reference, got %v", out)
	}
	if out[0].Type != "LevelResource" || out[0].Name != "lobby" {
		t.Fatalf("unexpected reference: %+v", out[0])
	}
	if out[0].Flags&refmodel.ReferenceFlagRequired == 0 {
		t.Fatalf("expected Required flag preserved, got %+v", out[0])
	}
}

func TestEmptyNameFiltered(t *testing.T) {
	storage, err := refmodel.BuildStorage(buildLevelRegistry())
	if err != nil {
		t.Fatalf("BuildStorage: %v", err)
	}

	instance := Level{Level: ""}
	var out []refmodel.DetectedReference
	if err := refmodel.Detect(storage, "Level", &instance, &out); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no references for an empty name, got %v", out)
	}
}

type MultiRef struct {
	A string `kan:"ref=TargetA,flags=required"`
	B string `kan:"ref=TargetB"`
}

func TestRoundTripMultipleFieldsDistinctTargets(t *testing.T) {
	reg := reflectregistry.NewBuilder().
		RegisterType(MultiRef{}).
		MarkResource("MultiRef", 0).
		Build()
	storage, err := refmodel.BuildStorage(reg)
	if err != nil {
		t.Fatalf("BuildStorage: %v", err)
	}

	instance := MultiRef{A: "a-name", B: "b-name"}
	var out []refmodel.DetectedReference
	if err := refmodel.Detect(storage, "MultiRef", &instance, &out); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 references, got %v", out)
	}
	if out[0].Name != "a-name" || out[1].Name != "b-name" {
		t.Fatalf("expected insertion order preserved, got %v", out)
	}
}

type Gated struct {
	Mode int
	Name string `kan:"ref=Target,visible_if=Mode:1"`
}

func TestVisibilityGating(t *testing.T) {
	reg := reflectregistry.NewBuilder().
		RegisterType(Gated{}).
		MarkResource("Gated", 0).
		Build()
	storage, err := refmodel.BuildStorage(reg)
	if err != nil {
		t.Fatalf("BuildStorage: %v", err)
	}

	hidden := Gated{Mode: 0, Name: "x"}
	var out []refmodel.DetectedReference
	if err := refmodel.Detect(storage, "Gated", &hidden, &out); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected gate to hide the field, got %v", out)
	}

	visible := Gated{Mode: 1, Name: "x"}
	out = nil
	if err := refmodel.Detect(storage, "Gated", &visible, &out); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Name != "x" {
		t.Fatalf("expected the gate to admit the field, got %v", out)
	}
}

type Pass struct {
	Pipeline string `kan:"ref=Pipeline"`
}

type Material struct {
	Passes []Pass
}

func buildMaterialRegistry() (*reflectregistry.Registry, *refmodel.Storage) {
	reg := reflectregistry.NewBuilder().
		RegisterType(Material{}).
		RegisterType(Pass{}).
		MarkResource("Material", refmodel.ResourceFlagRoot).
		Build()
	storage, err := refmodel.BuildStorage(reg)
	if err != nil {
		panic(err)
	}
	return reg, storage
}

func TestPatchSectionedAppendOfStructElement(t *testing.T) {
	reg, storage := buildMaterialRegistry()

	materialDesc, ok := reg.LookupStruct("Material")
	if !ok {
		t.Fatal("Material not found in registry")
	}
	passesField := materialDesc.Fields[0]
	if passesField.Name != "Passes" {
		t.Fatalf("expected first field to be Passes, got %+v", passesField)
	}

	passDesc, ok := reg.LookupStruct("Pass")
	if !ok {
		t.Fatal("Pass not found in registry")
	}
	pipelineField := passDesc.Fields[0]

	raw := make([]byte, passDesc.Size)
	copy(raw[pipelineField.Offset:], "deferred_pbr")

	patch := refmodel.Patch{
		RootType: "Material",
		Nodes: []refmodel.PatchNode{
			refmodel.SectionMarker{
				SectionID:            1,
				ParentSectionID:      0,
				Type:                 refmodel.DynamicArrayAppend,
				SourceOffsetInParent: passesField.Offset,
			},
			refmodel.Chunk{Offset: 0, Size: len(raw), Bytes: raw},
		},
	}

	var out []refmodel.DetectedReference
	if err := refmodel.Walk(storage, "Material", patch, &out); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one reference, got %v", out)
	}
	if out[0].Type != "Pipeline" || out[0].Name != "deferred_pbr" {
		t.Fatalf("unexpected reference: %+v", out[0])
	}
}

func TestPatchDynamicArraySetOfInternedStrings(t *testing.T) {
	type Tags struct {
		Names []string `kan:"ref=Tag"`
	}
	reg := reflectregistry.NewBuilder().
		RegisterType(Tags{}).
		MarkResource("Tags", 0).
		Build()
	storage, err := refmodel.BuildStorage(reg)
	if err != nil {
		t.Fatalf("BuildStorage: %v", err)
	}

	desc, _ := reg.LookupStruct("Tags")
	namesField := desc.Fields[0]
	stride := namesField.ItemSize

	raw := make([]byte, stride*2)
	copy(raw[0:], "alpha")
	copy(raw[stride:], "beta")

	patch := refmodel.Patch{
		RootType: "Tags",
		Nodes: []refmodel.PatchNode{
			refmodel.SectionMarker{SectionID: 1, ParentSectionID: 0, Type: refmodel.DynamicArraySet, SourceOffsetInParent: namesField.Offset},
			refmodel.Chunk{Offset: 0, Size: len(raw), Bytes: raw},
		},
	}

	var out []refmodel.DetectedReference
	if err := refmodel.Walk(storage, "Tags", patch, &out); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 references, got %v", out)
	}
	if out[0].Name != "alpha" || out[1].Name != "beta" {
		t.Fatalf("unexpected references: %v", out)
	}
}
