// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "fmt"

// NodeKind is the operation performed by a graph node.
type NodeKind uint8

const (
	// NodeEmpty performs no work. Used to join dependencies.
	NodeEmpty NodeKind = iota
	// NodeCopy copies bytes between buffers.
	NodeCopy
	// NodeFill fills a buffer range with a repeating pattern.
	NodeFill
	// NodeUpdate writes host bytes captured at record time into a buffer.
	NodeUpdate
	// NodeKernel dispatches a compute kernel.
	NodeKernel
	// NodeEventRecord signals an event once its dependencies complete.
	NodeEventRecord
	// NodeEventWait blocks dependents until an event is signaled.
	NodeEventWait
)

// String returns the string representation of NodeKind.
func (k NodeKind) String() string {
	switch k {
	case NodeEmpty:
		return "Empty"
	case NodeCopy:
		return "Copy"
	case NodeFill:
		return "Fill"
	case NodeUpdate:
		return "Update"
	case NodeKernel:
		return "Kernel"
	case NodeEventRecord:
		return "EventRecord"
	case NodeEventWait:
		return "EventWait"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// CopyParams describes a NodeCopy. Both ranges have the source length.
type CopyParams struct {
	Source BufferRef
	Target BufferRef
}

// FillParams describes a NodeFill. Pattern is 1, 2 or 4 bytes.
type FillParams struct {
	Target  BufferRef
	Pattern []byte
}

// UpdateParams describes a NodeUpdate.
type UpdateParams struct {
	Target BufferRef
	Data   []byte
}

// KernelParams describes a NodeKernel.
type KernelParams struct {
	Kernel     KernelHandle
	Workgroups [3]uint32
	Constants  []uint32
	Bindings   []BufferRef
}

// NodeDesc is a tagged description of one graph node. Only the params
// matching Kind are meaningful.
type NodeDesc struct {
	Kind  NodeKind
	Label string

	Copy   CopyParams
	Fill   FillParams
	Update UpdateParams
	Kernel KernelParams
	Event  EventHandle
}

// Refs returns every buffer reference the node touches, with a flag telling
// whether the node writes it.
func (d *NodeDesc) Refs() (refs []BufferRef, writes []bool) {
	switch d.Kind {
	case NodeCopy:
		return []BufferRef{d.Copy.Source, d.Copy.Target}, []bool{false, true}
	case NodeFill:
		return []BufferRef{d.Fill.Target}, []bool{true}
	case NodeUpdate:
		return []BufferRef{d.Update.Target}, []bool{true}
	case NodeKernel:
		// Kernel bindings are conservatively treated as read-write.
		w := make([]bool, len(d.Kernel.Bindings))
		for i := range w {
			w[i] = true
		}
		return d.Kernel.Bindings, w
	default:
		return nil, nil
	}
}
