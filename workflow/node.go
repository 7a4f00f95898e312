// Package workflow implements the Workflow Graph engine: a declarative
// dependency-and-resource graph that a Builder compiles into a race-free
// parallel execution plan, dispatched by an Executor over a job system.
package workflow

import (
	"context"

	"github.com/kan-go/workflow/jobsystem"
)

// NodeFunc is the callable a functional node runs. It receives the Job its
// execution belongs to (so it may dispatch further sub-tasks the Job will
// wait for) and the opaque UserData supplied at submission time.
//
// A node with no NodeFunc is a checkpoint: a pure synchronization label,
// never executed, elided at compile time.
type NodeFunc func(ctx context.Context, job jobsystem.Job, userData any)

// AccessClass declares how a node touches a named resource, for the
// builder's race-verification pass.
type AccessClass int

const (
	// AccessInsert: the node creates new records of the resource type. It
	// cannot observe existing records atomically.
	AccessInsert AccessClass = iota
	// AccessWrite: the node mutates existing records.
	AccessWrite
	// AccessRead: the node observes records without mutation.
	AccessRead
)

func (a AccessClass) String() string {
	switch a {
	case AccessInsert:
		return "insert"
	case AccessWrite:
		return "write"
	case AccessRead:
		return "read"
	default:
		return "unknown"
	}
}

// resourceAccess pairs a resource name with the class of access a node
// declares against it.
type resourceAccess struct {
	resource string
	class    AccessClass
}

// buildingNode is the mutable, pre-compilation representation of a node
// inside a Builder. It is never exposed directly; callers interact with it
// through a NodeHandle.
type buildingNode struct {
	name string
	fn   NodeFunc
	data any

	dependsOn    []string // this node runs after these
	dependencyOf []string // these nodes run after this one

	access []resourceAccess

	submitted    bool
	isCheckpoint bool // true only for placeholders created by Builder.AddCheckpointEdge
}

// NodeHandle is a reference to an unsubmitted building node, returned by
// Builder.NodeCreate. Use its setters to configure the node, then submit it
// with Builder.NodeSubmit.
type NodeHandle struct {
	b    *Builder
	node *buildingNode
}

// SetFunction attaches the callable and opaque user data this node runs
// with. A node with a function is "functional"; without one, submitting it
// is rejected — checkpoints are created implicitly via depends_on/
// dependency_of references, not via explicit submission.
func (h *NodeHandle) SetFunction(fn NodeFunc, userData any) *NodeHandle {
	h.node.fn = fn
	h.node.data = userData
	return h
}

// DependOn records that this node must run after name.
func (h *NodeHandle) DependOn(name string) *NodeHandle {
	h.node.dependsOn = append(h.node.dependsOn, name)
	return h
}

// MakeDependencyOf records that name must run after this node.
func (h *NodeHandle) MakeDependencyOf(name string) *NodeHandle {
	h.node.dependencyOf = append(h.node.dependencyOf, name)
	return h
}

// InsertResource declares an INSERT access against resource.
func (h *NodeHandle) InsertResource(resource string) *NodeHandle {
	h.node.access = append(h.node.access, resourceAccess{resource, AccessInsert})
	return h
}

// WriteResource declares a WRITE access against resource.
func (h *NodeHandle) WriteResource(resource string) *NodeHandle {
	h.node.access = append(h.node.access, resourceAccess{resource, AccessWrite})
	return h
}

// ReadResource declares a READ access against resource.
func (h *NodeHandle) ReadResource(resource string) *NodeHandle {
	h.node.access = append(h.node.access, resourceAccess{resource, AccessRead})
	return h
}

// Name returns the node's name.
func (h *NodeHandle) Name() string { return h.node.name }
