package refmodel

// ResourceTypeFlags bits carried by ResourceTypeMeta.
type ResourceTypeFlags uint32

const (
	// ResourceFlagRoot marks a resource type as a top-level resource,
	// addressable by external name from outside the pipeline. Root types
	// may not be produced by a BuildRule.
	ResourceFlagRoot ResourceTypeFlags = 1 << iota
)

// ReferenceFlags bits carried by ReferenceMeta and DetectedReference.
type ReferenceFlags uint32

const (
	// ReferenceFlagRequired marks a reference as mandatory for the owning
	// resource to be considered complete.
	ReferenceFlagRequired ReferenceFlags = 1 << iota
	// ReferenceFlagPlatformOptional marks a reference that only some
	// target platforms need resolved.
	ReferenceFlagPlatformOptional
)

// ReferenceMeta is field-level metadata declaring that a field carries
// typed references to named resources. ReferencedType == "" means the
// field holds third-party/opaque external asset names: the name is a
// foreign key whose target type is intentionally unspecified.
type ReferenceMeta struct {
	ReferencedType string
	Flags          ReferenceFlags
}

// ResourceTypeMeta is type-level metadata marking a struct as a resource
// type.
type ResourceTypeMeta struct {
	Flags ResourceTypeFlags
}

func (m ResourceTypeMeta) IsRoot() bool { return m.Flags&ResourceFlagRoot != 0 }

// BuildRuleMeta declares a producer/consumer relationship: a functor that
// turns a primary input (plus optional secondary inputs and a platform
// configuration) into this resource type.
type BuildRuleMeta struct {
	PrimaryInputType          string
	PlatformConfigurationType string
	SecondaryTypes            []string
	Functor                   string
	Version                   int
}
